package session

import (
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type inboundPayload struct {
	Content json.RawMessage `json:"content"`
}

// ErrorFrame is sent to a client whose frame could not be handled.
// The connection stays open.
type ErrorFrame struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

const (
	CodeMalformedPayload = "malformed_payload"
	CodeStoreUnavailable = "store_unavailable"
	CodeRateLimited      = "rate_limited"
)

func newErrorFrame(code, detail string) ErrorFrame {
	return ErrorFrame{Type: "error", Code: code, Detail: detail}
}

// ParsePayload extracts the content of an inbound frame {"content": "..."}.
// Unknown fields are ignored. The content must be a non blank string of at
// most maxLength runes. A content that is itself an encoded {"content": ...}
// object is unwrapped once when legacyUnwrap is set, and rejected otherwise.
func ParsePayload(raw []byte, maxLength int, legacyUnwrap bool) (string, error) {
	var payload inboundPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err)
	}
	if len(payload.Content) == 0 || string(payload.Content) == "null" {
		return "", fmt.Errorf("%w: missing content", errors.ErrMalformedPayload)
	}

	var content string
	if err := json.Unmarshal(payload.Content, &content); err != nil {
		return "", fmt.Errorf("%w: content must be a string", errors.ErrMalformedPayload)
	}

	if inner, ok := doubleEncoded(content); ok {
		if !legacyUnwrap {
			return "", fmt.Errorf("%w: double encoded content", errors.ErrMalformedPayload)
		}
		content = inner
	}

	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: blank content", errors.ErrMalformedPayload)
	}
	if err := validate.Var(content, fmt.Sprintf("max=%d", maxLength)); err != nil {
		return "", fmt.Errorf("%w: content longer than %d characters", errors.ErrMalformedPayload, maxLength)
	}
	return content, nil
}

func doubleEncoded(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var inner struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal([]byte(trimmed), &inner); err != nil || inner.Content == nil {
		return "", false
	}
	return *inner.Content, true
}
