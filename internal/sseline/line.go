package sseline

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Kind classifies the payload of a data-prefixed stream line.
type Kind int

const (
	Unrecognized Kind = iota
	SessionToken
	MessagePath
	JSONPayload
	Sentinel
)

func (k Kind) String() string {
	switch k {
	case SessionToken:
		return "SessionToken"
	case MessagePath:
		return "MessagePath"
	case JSONPayload:
		return "JSONPayload"
	case Sentinel:
		return "Sentinel"
	default:
		return "Unrecognized"
	}
}

const (
	dataPrefix = "data:"
	sentinel   = "[DONE]"
)

// Both the legacy device dialect (session_id) and mcp-go (sessionId) appear in
// the wild; the token itself is hex-like either way.
var sessionIDPattern = regexp.MustCompile(`(?:session_id|sessionId)=([0-9a-f-]+)`)

// Line is one classified data payload from the upstream stream.
type Line struct {
	Kind      Kind
	Payload   string // payload with the data prefix stripped
	SessionID string // set for SessionToken lines
}

// Parse classifies a raw stream line. ok is false when the line does not carry
// the data prefix; such lines hold no protocol meaning and are discarded.
func Parse(raw string) (Line, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, dataPrefix) {
		return Line{}, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, dataPrefix))
	line := Line{Payload: payload}

	switch {
	case payload == sentinel:
		line.Kind = Sentinel
	case isJSONContainer(payload):
		line.Kind = JSONPayload
	case sessionIDPattern.MatchString(payload):
		line.Kind = SessionToken
		line.SessionID = sessionIDPattern.FindStringSubmatch(payload)[1]
	case strings.HasPrefix(payload, "/"):
		line.Kind = MessagePath
	default:
		// Covers bare numbers, which are positional noise on this protocol,
		// and anything else unparseable.
		line.Kind = Unrecognized
	}
	return line, true
}

// isJSONContainer reports whether the payload parses as a JSON object or
// array. Bare scalars are not payloads.
func isJSONContainer(payload string) bool {
	if len(payload) == 0 || (payload[0] != '{' && payload[0] != '[') {
		return false
	}
	return json.Valid([]byte(payload))
}
