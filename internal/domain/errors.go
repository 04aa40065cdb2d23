package domain

import "errors"

// Failure reasons carried to the completion callback. Concrete causes are
// wrapped alongside them, so match with errors.Is.
var (
	ErrChannelOpen      = errors.New("signaling channel open failed")
	ErrChannelIO        = errors.New("signaling channel i/o error")
	ErrMalformedMessage = errors.New("malformed signaling message")
	ErrNegotiation      = errors.New("negotiation failed")
	ErrCandidate        = errors.New("invalid candidate")
	ErrTimeout          = errors.New("connection timed out")
	ErrCanceled         = errors.New("session canceled by disconnect")
	ErrRemoteHangup     = errors.New("remote peer hung up")
)
