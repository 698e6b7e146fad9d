package domain

import (
	"encoding/json"
)

// Signaling frame types.
const (
	SignalCallInitiate = "call-initiate"
	SignalCallAnswer   = "call-answer"
	SignalICECandidate = "ice-candidate"
	SignalCallRejected = "call-rejected"
	SignalCallEnd      = "call-end"
)

var signalRequiredFields = map[string][]string{
	SignalCallInitiate: {"offer", "senderId", "targetId", "consultation_id"},
	SignalCallAnswer:   {"answer", "senderId", "targetId"},
	SignalICECandidate: {"candidate", "senderId", "targetId"},
	SignalCallRejected: {"senderId", "targetId"},
	SignalCallEnd:      {"senderId", "targetId", "sender", "consultationId", "duration", "timestamp"},
}

// SignalMessage is one decoded signaling frame.
type SignalMessage interface {
	SignalType() string
	Route() (sender, target Identity)
}

type signalRoute struct {
	SenderID Identity `json:"senderId"`
	TargetID Identity `json:"targetId"`
}

func (r signalRoute) Route() (Identity, Identity) { return r.SenderID, r.TargetID }

type CallInitiate struct {
	signalRoute
	Offer          json.RawMessage `json:"offer"`
	ConsultationID json.RawMessage `json:"consultation_id"`
}

func (CallInitiate) SignalType() string { return SignalCallInitiate }

type CallAnswer struct {
	signalRoute
	Answer json.RawMessage `json:"answer"`
}

func (CallAnswer) SignalType() string { return SignalCallAnswer }

type ICECandidate struct {
	signalRoute
	Candidate json.RawMessage `json:"candidate"`
}

func (ICECandidate) SignalType() string { return SignalICECandidate }

type CallRejected struct {
	signalRoute
}

func (CallRejected) SignalType() string { return SignalCallRejected }

// CallEnd closes a call. Sender is the role of the ending party.
type CallEnd struct {
	signalRoute
	Sender         string          `json:"sender"`
	ConsultationID json.RawMessage `json:"consultationId"`
	Duration       json.RawMessage `json:"duration"`
	Timestamp      json.RawMessage `json:"timestamp"`
}

func (CallEnd) SignalType() string { return SignalCallEnd }

// UnrecognizedSignal carries a frame whose type the relay does not route.
type UnrecognizedSignal struct {
	Type string
}

func (u UnrecognizedSignal) SignalType() string        { return u.Type }
func (UnrecognizedSignal) Route() (Identity, Identity) { return "", "" }

// DecodeSignal decodes and validates a signaling frame.
func DecodeSignal(data []byte) (SignalMessage, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	required, known := signalRequiredFields[env.Type]
	if !known {
		return UnrecognizedSignal{Type: env.Type}, nil
	}
	if missing := env.missing(required); len(missing) > 0 {
		return nil, &MissingFieldsError{Type: env.Type, Fields: missing}
	}

	var msg SignalMessage
	switch env.Type {
	case SignalCallInitiate:
		msg = &CallInitiate{}
	case SignalCallAnswer:
		msg = &CallAnswer{}
	case SignalICECandidate:
		msg = &ICECandidate{}
	case SignalCallRejected:
		msg = &CallRejected{}
	case SignalCallEnd:
		msg = &CallEnd{}
	}
	if err := unmarshalVariant(data, msg); err != nil {
		return nil, err
	}
	if sender, target := msg.Route(); sender == "" || target == "" {
		return nil, &InvalidFieldError{Field: "targetId", Reason: "sender and target must be non-empty"}
	}
	return msg, nil
}
