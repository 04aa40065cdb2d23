package signal

import (
	"encoding/json"
	"fmt"

	"github.com/bbielsa/rtcsession/internal/domain"
)

// envelope is the JSON structure exchanged over the WebSocket.
type envelope struct {
	Type      string            `json:"type"`
	Room      string            `json:"room,omitempty"`
	ClientID  string            `json:"clientId,omitempty"`
	Initiator bool              `json:"initiator,omitempty"`
	SDP       string            `json:"sdp,omitempty"`
	Candidate *candidatePayload `json:"candidate,omitempty"`
}

// candidatePayload mirrors the browser RTCIceCandidateInit shape.
type candidatePayload struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

var kindByType = map[string]domain.MessageKind{
	"join":      domain.MessageJoin,
	"offer":     domain.MessageOffer,
	"answer":    domain.MessageAnswer,
	"candidate": domain.MessageCandidate,
	"bye":       domain.MessageBye,
}

func encode(msg domain.Message) ([]byte, error) {
	env := envelope{Type: msg.Kind.String()}
	if _, ok := kindByType[env.Type]; !ok {
		return nil, fmt.Errorf("encode: unknown message kind %s", msg.Kind)
	}

	switch msg.Kind {
	case domain.MessageJoin:
		env.Room = msg.Room
		env.ClientID = msg.ClientID
		env.Initiator = msg.Initiator
	case domain.MessageOffer, domain.MessageAnswer:
		env.SDP = msg.SDP
	case domain.MessageCandidate:
		env.Candidate = &candidatePayload{
			SDPMid:        msg.Candidate.Mid,
			SDPMLineIndex: msg.Candidate.Index,
			Candidate:     msg.Candidate.SDP,
		}
	}

	return json.Marshal(env)
}

// decode parses and validates one inbound frame. Errors wrap
// domain.ErrMalformedMessage or domain.ErrCandidate.
func decode(data []byte) (domain.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
	}

	kind, ok := kindByType[env.Type]
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: unknown type %q", domain.ErrMalformedMessage, env.Type)
	}

	msg := domain.Message{Kind: kind}
	switch kind {
	case domain.MessageJoin:
		msg.Room = env.Room
		msg.ClientID = env.ClientID
		msg.Initiator = env.Initiator
	case domain.MessageOffer, domain.MessageAnswer:
		msg.SDP = env.SDP
	case domain.MessageCandidate:
		if env.Candidate == nil {
			return domain.Message{}, fmt.Errorf("%w: candidate message without payload", domain.ErrCandidate)
		}
		msg.Candidate = domain.Candidate{
			Mid:   env.Candidate.SDPMid,
			Index: env.Candidate.SDPMLineIndex,
			SDP:   env.Candidate.Candidate,
		}
	}

	if err := msg.Validate(); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}
