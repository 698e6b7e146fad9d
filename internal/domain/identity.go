package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Identity addresses a signaling or notification peer. Clients send ids as
// JSON strings or numbers; both decode to the same canonical string.
type Identity string

func (id *Identity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return &InvalidFieldError{Field: "identity", Reason: err.Error()}
		}
		*id = Identity(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return &InvalidFieldError{Field: "identity", Reason: "must be a string or a number"}
	}
	if i, err := n.Int64(); err == nil {
		*id = Identity(strconv.FormatInt(i, 10))
		return nil
	}
	*id = Identity(n.String())
	return nil
}

func (id Identity) String() string { return string(id) }

// ParticipantID identifies a chat participant. Numeric strings are coerced.
type ParticipantID int64

func (p *ParticipantID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return &InvalidFieldError{Field: "sender_id", Reason: err.Error()}
		}
		return p.parse(strings.TrimSpace(s))
	}
	return p.parse(string(b))
}

func (p *ParticipantID) parse(s string) error {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return &InvalidFieldError{Field: "sender_id", Reason: "must be an integer"}
	}
	*p = ParticipantID(v)
	return nil
}

// ParticipantRole is the sender_type of a chat participant.
type ParticipantRole string

const (
	RoleDoctor ParticipantRole = "doctor"
	RoleUser   ParticipantRole = "user"
)

// ParseRole normalizes s and checks it against the known roles.
func ParseRole(s string) (ParticipantRole, error) {
	switch role := ParticipantRole(strings.ToLower(strings.TrimSpace(s))); role {
	case RoleDoctor, RoleUser:
		return role, nil
	default:
		return "", &InvalidFieldError{Field: "sender_type", Reason: "must be one of doctor, user"}
	}
}
