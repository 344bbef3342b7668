package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TAS/modelguard/pkg/logger"
)

// AlertType classifies an alert
type AlertType string

const (
	// TypeDrift fires when drift is detected on a dataset
	TypeDrift AlertType = "drift_detected"
	// TypeDegradation fires when model performance degrades
	TypeDegradation AlertType = "performance_degradation"
	// TypeRetraining fires when retraining is triggered
	TypeRetraining AlertType = "retraining_triggered"
	// TypePromotion fires on production promotions and rollbacks
	TypePromotion AlertType = "promotion"
)

// Severity ranks alert urgency
type Severity string

const (
	// SeverityInfo is informational
	SeverityInfo Severity = "info"
	// SeverityWarning needs attention
	SeverityWarning Severity = "warning"
	// SeverityCritical needs immediate attention
	SeverityCritical Severity = "critical"
)

// Alert is one notification event
type Alert struct {
	AlertID   string                 `json:"alert_id"`
	Type      AlertType              `json:"type"`
	Severity  Severity               `json:"severity"`
	ModelName string                 `json:"model_name,omitempty"`
	Dataset   string                 `json:"dataset,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Channel delivers alerts to an external sink
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// LogChannel writes alerts to the structured log
type LogChannel struct {
	log *logger.Logger
}

// NewLogChannel creates a log-backed alert channel
func NewLogChannel(log *logger.Logger) *LogChannel {
	return &LogChannel{log: log}
}

// Name implements Channel
func (c *LogChannel) Name() string { return "log" }

// Send implements Channel
func (c *LogChannel) Send(ctx context.Context, alert *Alert) error {
	entry := c.log.WithFields(map[string]interface{}{
		"alert_id":   alert.AlertID,
		"alert_type": string(alert.Type),
		"severity":   string(alert.Severity),
	})
	if alert.ModelName != "" {
		entry = entry.WithModel(alert.ModelName)
	}
	if alert.Dataset != "" {
		entry = entry.WithDataset(alert.Dataset)
	}

	switch alert.Severity {
	case SeverityCritical:
		entry.Error("%s", alert.Message)
	case SeverityWarning:
		entry.Warn("%s", alert.Message)
	default:
		entry.Info("%s", alert.Message)
	}
	return nil
}

// Config controls alert dispatch
type Config struct {
	// Enabled gates all dispatch
	Enabled bool
	// Cooldown suppresses repeated alerts of the same type for the same
	// model within the window
	Cooldown time.Duration
}

// Manager fans alerts out to the configured channels with per-type,
// per-model cooldown suppression. Delivery failures are logged and do not
// propagate to the caller.
type Manager struct {
	config   Config
	channels []Channel
	log      *logger.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	history  []Alert
}

// NewManager creates an alert manager
func NewManager(config Config, log *logger.Logger, channels ...Channel) *Manager {
	if config.Cooldown <= 0 {
		config.Cooldown = 5 * time.Minute
	}
	return &Manager{
		config:   config,
		channels: channels,
		log:      log,
		lastSent: make(map[string]time.Time),
	}
}

// Fire dispatches an alert unless a matching alert fired inside the
// cooldown window. Returns true when the alert was dispatched.
func (m *Manager) Fire(ctx context.Context, alert *Alert) bool {
	if !m.config.Enabled {
		return false
	}

	if alert.AlertID == "" {
		alert.AlertID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	key := fmt.Sprintf("%s/%s/%s", alert.Type, alert.ModelName, alert.Dataset)

	m.mu.Lock()
	if last, ok := m.lastSent[key]; ok && alert.Timestamp.Sub(last) < m.config.Cooldown {
		m.mu.Unlock()
		m.log.Debug("suppressed %s alert for %s, inside cooldown", alert.Type, alert.ModelName)
		return false
	}
	m.lastSent[key] = alert.Timestamp
	m.history = append(m.history, *alert)
	m.mu.Unlock()

	for _, channel := range m.channels {
		if err := channel.Send(ctx, alert); err != nil {
			m.log.WithError(err).Warn("alert delivery via %s failed", channel.Name())
		}
	}
	return true
}

// History returns a copy of all dispatched alerts, oldest first
func (m *Manager) History() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.history))
	copy(out, m.history)
	return out
}
