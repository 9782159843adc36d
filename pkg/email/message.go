// Package email turns queued email jobs into deliveries through a pluggable
// provider.
package email

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JobName is the job name used for outbound email jobs.
const JobName = "email.send"

// ErrInvalidMessage classifies payloads that can never be delivered.
var ErrInvalidMessage = errors.New("invalid email message")

// Message is the JSON payload of an email job.
type Message struct {
	From     string            `json:"from,omitempty" yaml:"from,omitempty"`
	To       []string          `json:"to" yaml:"to"`
	Cc       []string          `json:"cc,omitempty" yaml:"cc,omitempty"`
	Bcc      []string          `json:"bcc,omitempty" yaml:"bcc,omitempty"`
	ReplyTo  string            `json:"reply_to,omitempty" yaml:"reply_to,omitempty"`
	Subject  string            `json:"subject" yaml:"subject"`
	TextBody string            `json:"text,omitempty" yaml:"text,omitempty"`
	HTMLBody string            `json:"html,omitempty" yaml:"html,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// DecodeMessage parses a job payload.
func DecodeMessage(payload []byte) (Message, error) {
	var message Message
	if err := json.Unmarshal(payload, &message); err != nil {
		return Message{}, fmt.Errorf("%w: decode payload: %v", ErrInvalidMessage, err)
	}
	return message.normalized(), nil
}

// Encode validates message and returns it as a job payload.
func (m Message) Encode() ([]byte, error) {
	normalized := m.normalized()
	if err := normalized.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// Recipients returns To, Cc and Bcc in envelope order.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}

func (m Message) normalized() Message {
	cp := m
	cp.From = strings.TrimSpace(cp.From)
	cp.ReplyTo = strings.TrimSpace(cp.ReplyTo)
	cp.Subject = strings.TrimSpace(cp.Subject)
	cp.To = normalizeEmailList(cp.To)
	cp.Cc = normalizeEmailList(cp.Cc)
	cp.Bcc = normalizeEmailList(cp.Bcc)
	return cp
}

func (m Message) validate() error {
	if len(m.To)+len(m.Cc)+len(m.Bcc) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidMessage)
	}
	if m.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.TextBody) == "" && strings.TrimSpace(m.HTMLBody) == "" {
		return fmt.Errorf("%w: body is required (text or html)", ErrInvalidMessage)
	}
	for _, address := range append(m.Recipients(), m.From, m.ReplyTo) {
		if strings.ContainsAny(address, "\r\n") {
			return fmt.Errorf("%w: address %q contains a line break", ErrInvalidMessage, address)
		}
	}
	if strings.ContainsAny(m.Subject, "\r\n") {
		return fmt.Errorf("%w: subject contains a line break", ErrInvalidMessage)
	}
	return nil
}

// normalizeEmailList trims addresses and drops blanks and case-insensitive duplicates.
func normalizeEmailList(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, value := range list {
		address := strings.TrimSpace(value)
		if address == "" {
			continue
		}
		key := strings.ToLower(address)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, address)
	}
	return out
}

// withSender fills From from the provider default.
func withSender(message Message, defaultFrom string) (Message, error) {
	message = message.normalized()
	if message.From == "" {
		message.From = strings.TrimSpace(defaultFrom)
	}
	if message.From == "" {
		return Message{}, fmt.Errorf("%w: from is required when the provider has no default sender", ErrInvalidMessage)
	}
	if err := message.validate(); err != nil {
		return Message{}, err
	}
	return message, nil
}
