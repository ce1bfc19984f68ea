// Package model holds the wire and session types shared by the gateway,
// the transport connector and the conversation view model.
package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// SessionStatus tracks where the client is in the auth lifecycle.
type SessionStatus int

const (
	Anonymous SessionStatus = iota
	Authenticating
	Authenticated
)

func (s SessionStatus) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Session is the authenticated identity. Owned by the session coordinator;
// everyone else gets copies.
type Session struct {
	UserID    FlexID
	Username  string
	AuthToken string
	Status    SessionStatus
}

// Connectivity is the pair of health indicators the UI renders.
type Connectivity struct {
	BackendOnline   bool
	TransportOnline bool
}

// Peer is a selectable chat counterpart.
type Peer struct {
	ID        FlexID `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Message is a single chat message, from REST history, a send response,
// or a broker push.
type Message struct {
	ID         FlexID    `json:"id,omitempty"`
	SenderID   FlexID    `json:"sender_id"`
	ReceiverID FlexID    `json:"receiver_id"`
	Content    string    `json:"content"`
	Timestamp  Timestamp `json:"timestamp,omitzero"`
}

// EnvelopeNewMessage is the only envelope type the transport handles.
const EnvelopeNewMessage = "new_message"

// Envelope is the typed wrapper published over the broker.
type Envelope struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// FlexID is an entity identifier. The backend emits ids as JSON numbers
// while persisted client state stores them as strings; FlexID accepts
// both and marshals back to a number when the value is numeric.
type FlexID string

func (id FlexID) String() string { return string(id) }

func (id *FlexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Timestamp wraps time.Time with decoding for the two shapes seen on the
// wire: ISO-8601 strings from the backend and epoch numbers (seconds or
// milliseconds) from older broker peers.
type Timestamp struct {
	time.Time
}

// isoNoZone matches Python's datetime.isoformat() output, which carries
// no zone designator. Treated as UTC.
const isoNoZone = "2006-01-02T15:04:05.999999999"

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		for _, layout := range []string{time.RFC3339Nano, isoNoZone} {
			parsed, err := time.Parse(layout, raw)
			if err == nil {
				t.Time = parsed
				return nil
			}
		}
		var err error
		t.Time, err = time.Parse(time.RFC3339, raw)
		return err
	}
	var epoch float64
	if err := json.Unmarshal(data, &epoch); err != nil {
		return err
	}
	// Heuristic: values this large are milliseconds.
	if epoch > 1e12 {
		t.Time = time.UnixMilli(int64(epoch)).UTC()
	} else {
		t.Time = time.Unix(int64(epoch), 0).UTC()
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}
