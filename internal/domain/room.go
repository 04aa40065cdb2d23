package domain

// Room holds the signaling parameters scraped from a room page.
type Room struct {
	Key        string
	ClientID   string
	SignalURL  string
	ICEServers []ICEServer
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}
