package domain

import "fmt"

// MessageKind tags the variant carried by a Message.
type MessageKind int

const (
	MessageJoin MessageKind = iota + 1
	MessageOffer
	MessageAnswer
	MessageCandidate
	MessageBye
)

func (k MessageKind) String() string {
	switch k {
	case MessageJoin:
		return "join"
	case MessageOffer:
		return "offer"
	case MessageAnswer:
		return "answer"
	case MessageCandidate:
		return "candidate"
	case MessageBye:
		return "bye"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is a signaling message exchanged with the coordinator.
// Only the fields belonging to Kind are meaningful.
type Message struct {
	Kind MessageKind

	// Join. Room and ClientID are sent when registering; Initiator is set by the
	// coordinator on the acknowledgment and tells this side to create the offer.
	Room      string
	ClientID  string
	Initiator bool

	// Offer, Answer.
	SDP string

	// Candidate.
	Candidate Candidate
}

// Validate reports whether the message has the shape its Kind requires.
func (m Message) Validate() error {
	switch m.Kind {
	case MessageJoin, MessageBye:
		return nil
	case MessageOffer, MessageAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrMalformedMessage, m.Kind)
		}
		return nil
	case MessageCandidate:
		if m.Candidate.SDP == "" {
			return fmt.Errorf("%w: empty candidate line", ErrCandidate)
		}
		if m.Candidate.Index < 0 {
			return fmt.Errorf("%w: negative m-line index %d", ErrCandidate, m.Candidate.Index)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrMalformedMessage, m.Kind)
	}
}

// SDPType is the role of a session description.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is an offer or answer as opaque SDP text.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// Candidate is a connectivity candidate for one media section.
type Candidate struct {
	Mid   string
	Index int
	SDP   string
}
