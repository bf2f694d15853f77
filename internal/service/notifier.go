package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
)

// Event types emitted by the MFA service. Events never carry secret
// material; only identifiers and the factor type.
const (
	EventSetupStarted          = "device_setup_started"
	EventDeviceActivated       = "device_activated"
	EventDeviceRemoved         = "device_removed"
	EventChallengeCreated      = "challenge_created"
	EventVerificationSucceeded = "verification_succeeded"
)

// Event is one outbound notification.
type Event struct {
	Type     string            `json:"type"`
	UserID   string            `json:"user_id"`
	DeviceID string            `json:"device_id"`
	Factor   domain.FactorType `json:"factor"`
	At       time.Time         `json:"at"`
}

// Notifier receives outbound MFA events. Implementations must not block;
// the service calls Notify inline on its hot paths.
type Notifier interface {
	Notify(event Event)
}

// ZapNotifier logs every event.
type ZapNotifier struct {
	logger *zap.Logger
}

// NewZapNotifier creates a logging notifier.
func NewZapNotifier(logger *zap.Logger) *ZapNotifier {
	return &ZapNotifier{logger: logger.Named("mfa-events")}
}

func (n *ZapNotifier) Notify(event Event) {
	n.logger.Info("MFA event",
		zap.String("event", event.Type),
		zap.String("user_id", event.UserID),
		zap.String("device_id", event.DeviceID),
		zap.String("factor", string(event.Factor)),
	)
}

// MultiNotifier fans an event out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(event Event) {
	for _, n := range m {
		n.Notify(event)
	}
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}
