package kafka

import (
	"encoding/json"
	"time"
)

// ContactSubmission is the payload of a contact-submissions message. It
// mirrors the identify request body: at least one of email/phoneNumber must
// carry a value.
type ContactSubmission struct {
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phoneNumber"`
}

// HasValue reports whether the submission carries at least one non-empty field.
func (s *ContactSubmission) HasValue() bool {
	if s.Email != nil && *s.Email != "" {
		return true
	}
	return s.PhoneNumber != nil && *s.PhoneNumber != ""
}

// Normalize converts empty-string fields to nil so they read as absent.
func (s *ContactSubmission) Normalize() {
	if s.Email != nil && *s.Email == "" {
		s.Email = nil
	}
	if s.PhoneNumber != nil && *s.PhoneNumber == "" {
		s.PhoneNumber = nil
	}
}

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string

	// Parsed content
	Submission *ContactSubmission
}

// ParseSubmission parses the message value as a contact submission
func (m *IncomingMessage) ParseSubmission() error {
	var sub ContactSubmission
	if err := json.Unmarshal(m.Value, &sub); err != nil {
		return err
	}
	sub.Normalize()
	m.Submission = &sub
	return nil
}
