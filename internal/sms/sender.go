// Package sms abstracts the transport used to deliver verification codes.
// Real deployments plug in a provider-backed Sender; the service never
// retries internally.
package sms

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Sender delivers a single SMS message.
type Sender interface {
	Send(ctx context.Context, phoneNumber, message string) error
}

// NewSender constructs the sender selected by provider.
func NewSender(provider string, logger *zap.Logger) (Sender, error) {
	switch provider {
	case "mock":
		return NewMockSender(logger), nil
	case "log":
		return &LogSender{logger: logger.Named("sms")}, nil
	default:
		return nil, fmt.Errorf("unknown sms provider: %q", provider)
	}
}

// LogSender writes messages to the log instead of dispatching them.
// The message body carries the verification code, so only the masked
// destination is logged.
type LogSender struct {
	logger *zap.Logger
}

func (s *LogSender) Send(ctx context.Context, phoneNumber, message string) error {
	s.logger.Info("SMS dispatched", zap.String("to", MaskPhone(phoneNumber)))
	return nil
}

// MockSender records every message for inspection in tests.
type MockSender struct {
	logger *zap.Logger

	mu       sync.Mutex
	messages []Message
}

// Message is one captured SMS.
type Message struct {
	PhoneNumber string
	Body        string
}

// NewMockSender creates a capturing sender.
func NewMockSender(logger *zap.Logger) *MockSender {
	return &MockSender{logger: logger.Named("sms-mock")}
}

func (s *MockSender) Send(ctx context.Context, phoneNumber, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, Message{PhoneNumber: phoneNumber, Body: message})
	s.logger.Debug("Mock SMS captured", zap.String("to", MaskPhone(phoneNumber)))
	return nil
}

// Messages returns a copy of everything sent so far.
func (s *MockSender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Message(nil), s.messages...)
}

// Last returns the most recent message, or false if none were sent.
func (s *MockSender) Last() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// MaskPhone redacts a phone number for logs and API responses: the first
// three and last two characters survive, the middle is replaced with ****.
func MaskPhone(phoneNumber string) string {
	if len(phoneNumber) <= 4 {
		return phoneNumber
	}
	return phoneNumber[:3] + "****" + phoneNumber[len(phoneNumber)-2:]
}
