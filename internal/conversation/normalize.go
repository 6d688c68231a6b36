package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/verdict/internal/faults"
)

// VoiceNotePlaceholder is the body the CRM stores for untranscribed voice notes.
const VoiceNotePlaceholder = "> Voice Note <"

// ErrNoTurns means no message survived filtering; downstream analysis is skipped.
var ErrNoTurns = errors.New("no valid messages in conversation")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one normalized message.
type Turn struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Time parses the timestamp, returning the zero time when it is not RFC 3339.
func (t Turn) Time() time.Time {
	ts, err := time.Parse(time.RFC3339Nano, t.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// RawMessage is a message as the CRM returns it.
type RawMessage struct {
	Direction   string            `json:"direction"`
	Body        json.RawMessage   `json:"body"`
	Attachments []json.RawMessage `json:"attachments"`
	DateAdded   json.RawMessage   `json:"dateAdded"`
	ContactID   string            `json:"contactId"`
}

// Payload is a conversation response after shape resolution.
type Payload struct {
	Shape    string
	Messages []RawMessage
	Contact  json.RawMessage
}

type shapeMatcher struct {
	name  string
	match func(raw []byte) ([]RawMessage, bool)
}

// Ordered; the first match wins.
var shapeMatchers = []shapeMatcher{
	{name: "array", match: matchArray},
	{name: "messages", match: matchMessages},
	{name: "nested_messages", match: matchNestedMessages},
}

func matchArray(raw []byte) ([]RawMessage, bool) {
	var msgs []RawMessage
	if json.Unmarshal(raw, &msgs) != nil {
		return nil, false
	}
	return msgs, true
}

func matchMessages(raw []byte) ([]RawMessage, bool) {
	var env struct {
		Messages json.RawMessage `json:"messages"`
	}
	if json.Unmarshal(raw, &env) != nil || !isArray(env.Messages) {
		return nil, false
	}
	return matchArray(env.Messages)
}

func matchNestedMessages(raw []byte) ([]RawMessage, bool) {
	var env struct {
		Messages struct {
			Messages json.RawMessage `json:"messages"`
		} `json:"messages"`
	}
	if json.Unmarshal(raw, &env) != nil || !isArray(env.Messages.Messages) {
		return nil, false
	}
	return matchArray(env.Messages.Messages)
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// ParsePayload resolves the payload shape. A payload matching no known shape
// is a MalformedResponseError carrying the raw bytes.
func ParsePayload(raw []byte) (*Payload, error) {
	for _, m := range shapeMatchers {
		msgs, ok := m.match(raw)
		if !ok {
			continue
		}
		p := &Payload{Shape: m.name, Messages: msgs}
		var env struct {
			Contact json.RawMessage `json:"contact"`
		}
		if m.name != "array" && json.Unmarshal(raw, &env) == nil {
			p.Contact = env.Contact
		}
		return p, nil
	}
	return nil, &faults.MalformedResponseError{
		Source:  "conversation",
		Payload: raw,
		Reason:  "expected an array, {messages: [...]} or {messages: {messages: [...]}}",
	}
}

// Normalize filters and maps raw messages into turns, preserving order.
// An empty result is not an error.
func Normalize(msgs []RawMessage) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Direction == "" || len(m.Attachments) > 0 {
			continue
		}
		var body string
		if json.Unmarshal(m.Body, &body) != nil {
			continue
		}
		if body == "" || body == VoiceNotePlaceholder {
			continue
		}
		content := strings.TrimSpace(body)
		if content == "" {
			continue
		}
		role := RoleAssistant
		if m.Direction == "inbound" {
			role = RoleUser
		}
		turns = append(turns, Turn{Role: role, Content: content, Timestamp: rawTimestamp(m.DateAdded)})
	}
	return turns
}

// rawTimestamp passes the source value through: strings unquoted, anything
// else as its JSON text.
func rawTimestamp(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
