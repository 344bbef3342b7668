package alerting

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TAS/modelguard/pkg/logger"
)

type captureChannel struct {
	sent []Alert
	err  error
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Send(ctx context.Context, alert *Alert) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, *alert)
	return nil
}

func TestFireDispatchesToChannels(t *testing.T) {
	channel := &captureChannel{}
	manager := NewManager(Config{Enabled: true, Cooldown: time.Minute}, logger.Nop(), channel)

	fired := manager.Fire(context.Background(), &Alert{
		Type:      TypeDrift,
		Severity:  SeverityWarning,
		ModelName: "churn",
		Dataset:   "orders",
		Message:   "drift detected on 2 feature(s)",
	})

	assert.True(t, fired)
	require.Len(t, channel.sent, 1)
	assert.NotEmpty(t, channel.sent[0].AlertID)
	assert.False(t, channel.sent[0].Timestamp.IsZero())
	assert.Len(t, manager.History(), 1)
}

func TestFireSuppressedInsideCooldown(t *testing.T) {
	channel := &captureChannel{}
	manager := NewManager(Config{Enabled: true, Cooldown: time.Hour}, logger.Nop(), channel)

	alert := func() *Alert {
		return &Alert{Type: TypeDrift, ModelName: "churn", Dataset: "orders", Message: "drift"}
	}

	assert.True(t, manager.Fire(context.Background(), alert()))
	assert.False(t, manager.Fire(context.Background(), alert()), "second alert inside cooldown must be suppressed")
	assert.Len(t, channel.sent, 1)

	// A different type for the same model is not suppressed.
	assert.True(t, manager.Fire(context.Background(), &Alert{Type: TypeRetraining, ModelName: "churn", Dataset: "orders"}))
}

func TestFireDisabled(t *testing.T) {
	channel := &captureChannel{}
	manager := NewManager(Config{Enabled: false}, logger.Nop(), channel)

	assert.False(t, manager.Fire(context.Background(), &Alert{Type: TypeDrift}))
	assert.Empty(t, channel.sent)
}

func TestDeliveryFailureDoesNotPropagate(t *testing.T) {
	failing := &captureChannel{err: fmt.Errorf("webhook down")}
	working := &captureChannel{}
	manager := NewManager(Config{Enabled: true, Cooldown: time.Minute}, logger.Nop(), failing, working)

	fired := manager.Fire(context.Background(), &Alert{Type: TypePromotion, ModelName: "churn", Message: "promoted"})

	assert.True(t, fired)
	assert.Len(t, working.sent, 1, "remaining channels still receive the alert")
}

func TestLogChannelSeverityMapping(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewLogger(&logger.Config{Level: logger.InfoLevel, Format: logger.JSONFormat, Output: &buf})
	channel := NewLogChannel(log)

	err := channel.Send(context.Background(), &Alert{
		AlertID:   "a1",
		Type:      TypeDegradation,
		Severity:  SeverityCritical,
		ModelName: "churn",
		Message:   "accuracy dropped",
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, "accuracy dropped")
	assert.Contains(t, out, `"model_name":"churn"`)
}
