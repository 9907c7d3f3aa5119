// Package events defines the alert event carried on the alerts queue and its decoding.
package events

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// AlertEnvelope is the alert event published by upstream services.
// Message is either a string or any structured JSON value.
type AlertEnvelope struct {
	AlertTypes []string `json:"alertTypes"`
	Message    any      `json:"message"`
}

// Wrapper is the outer object added by the publish path: {"message": <payload>}.
type Wrapper struct {
	Message json.RawMessage `json:"message"`
}

// MalformedMessageError reports a broker body that could not be decoded into an AlertEnvelope.
type MalformedMessageError struct {
	Reason string
	Body   []byte
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// ParseEnvelope decodes a raw broker body into an AlertEnvelope.
// The body must be UTF-8 JSON of the form {"message": {"alertTypes": [...], "message": ...}}.
func ParseEnvelope(body []byte) (*AlertEnvelope, error) {
	if !utf8.Valid(body) {
		return nil, &MalformedMessageError{Reason: "body is not valid UTF-8", Body: body}
	}

	var wrapper Wrapper
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, &MalformedMessageError{Reason: "body is not valid JSON", Body: body, Err: err}
	}
	if len(wrapper.Message) == 0 || string(wrapper.Message) == "null" {
		return nil, &MalformedMessageError{Reason: "missing message field", Body: body}
	}

	var envelope AlertEnvelope
	if err := json.Unmarshal(wrapper.Message, &envelope); err != nil {
		return nil, &MalformedMessageError{Reason: "message field is not an alert object", Body: body, Err: err}
	}
	if envelope.AlertTypes == nil {
		return nil, &MalformedMessageError{Reason: "missing alertTypes field", Body: body}
	}

	return &envelope, nil
}
