package domain

import "context"

// RoomFetcher resolves a room page into signaling parameters.
type RoomFetcher interface {
	FetchRoom(ctx context.Context, pageURL string) (*Room, error)
}

// ChannelHandler receives signaling channel events.
type ChannelHandler interface {
	OnMessage(msg Message)
	// OnMalformed reports an inbound payload that could not be decoded.
	OnMalformed(err error)
	// OnClosed reports that the remote side or the network closed the channel.
	// It is not called after a local Close.
	OnClosed(err error)
}

// Signaler is an open duplex channel to the signaling coordinator.
type Signaler interface {
	Send(msg Message) error
	Close() error
}

// SignalDialer opens signaling channels.
type SignalDialer interface {
	Dial(ctx context.Context, url string, handler ChannelHandler) (Signaler, error)
}

// PeerHandler receives media transport events.
type PeerHandler interface {
	OnLocalCandidate(c Candidate)
	OnRemoteStream(h StreamHandle)
	OnNegotiationError(err error)
	OnConnected()
}

// Peer manages the media transport of one session.
type Peer interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer(remoteOffer SessionDescription) (SessionDescription, error)
	SetLocalDescription(d SessionDescription) error
	SetRemoteDescription(d SessionDescription) error
	AddCandidate(c Candidate) error
	AddLocalMedia(m LocalMedia) error
	Close() error
}

// PeerFactory creates a Peer per session attempt.
type PeerFactory interface {
	NewPeer(opts Options, handler PeerHandler) (Peer, error)
}

// VideoSurface displays one remote stream at a time.
type VideoSurface interface {
	// Attach shows h, detaching any previous stream.
	Attach(h StreamHandle)
	Pause()
	Resume()
	// Stop releases the attached stream.
	Stop()
}

// Capturer starts local camera and microphone capture.
type Capturer interface {
	Start(useFrontCamera bool) (LocalMedia, error)
}
