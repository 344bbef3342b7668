package abtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRolloutImmediate(t *testing.T) {
	manager, reg := newTestManager(t)
	ctx := context.Background()
	_, b := twoVersions(t, reg, "churn")

	rollout, err := manager.CreateRollout(ctx, "r1", "churn", b, StrategyImmediate, RolloutOptions{})
	require.NoError(t, err)

	require.Len(t, rollout.Steps, 1)
	assert.Equal(t, 100.0, rollout.Steps[0].TrafficPercentage)
	assert.Equal(t, time.Duration(0), rollout.Steps[0].Delay)
}

func TestCreateRolloutCanary(t *testing.T) {
	manager, reg := newTestManager(t)
	ctx := context.Background()
	_, b := twoVersions(t, reg, "churn")

	rollout, err := manager.CreateRollout(ctx, "r1", "churn", b, StrategyCanary, RolloutOptions{
		InitialTraffic: 0.05,
		StepInterval:   30 * time.Minute,
	})
	require.NoError(t, err)

	require.Len(t, rollout.Steps, 2)
	assert.InDelta(t, 5.0, rollout.Steps[0].TrafficPercentage, 1e-9)
	assert.Equal(t, time.Duration(0), rollout.Steps[0].Delay)
	assert.Equal(t, 100.0, rollout.Steps[1].TrafficPercentage)
	assert.Equal(t, 30*time.Minute, rollout.Steps[1].Delay)
}

func TestCreateRolloutGradualSchedule(t *testing.T) {
	manager, reg := newTestManager(t)
	ctx := context.Background()
	_, b := twoVersions(t, reg, "churn")

	rollout, err := manager.CreateRollout(ctx, "r1", "churn", b, StrategyGradual, RolloutOptions{
		InitialTraffic: 0.1,
		Increment:      0.2,
		StepInterval:   time.Hour,
	})
	require.NoError(t, err)

	var percentages []float64
	for _, step := range rollout.Steps {
		percentages = append(percentages, step.TrafficPercentage)
	}
	assert.InDeltaSlice(t, []float64{10, 30, 50, 70, 90, 100}, percentages, 1e-9)

	for i, step := range rollout.Steps {
		assert.Equal(t, i+1, step.Step)
		assert.Equal(t, time.Duration(i)*time.Hour, step.Delay)
	}
}

func TestCreateRolloutRejectsUnknownStrategy(t *testing.T) {
	manager, reg := newTestManager(t)
	ctx := context.Background()
	_, b := twoVersions(t, reg, "churn")

	_, err := manager.CreateRollout(ctx, "r1", "churn", b, Strategy("bogus"), RolloutOptions{})
	assert.Error(t, err)
}

func TestExecuteRolloutPromotesAtFullTraffic(t *testing.T) {
	manager, reg := newTestManager(t)
	ctx := context.Background()
	a, b := twoVersions(t, reg, "churn")
	require.NoError(t, reg.Promote(ctx, "churn", a))

	rollout, err := manager.CreateRollout(ctx, "r1", "churn", b, StrategyGradual, RolloutOptions{
		InitialTraffic: 0.5,
		Increment:      0.5,
		StepInterval:   time.Millisecond,
	})
	require.NoError(t, err)

	var applied []float64
	err = manager.ExecuteRollout(ctx, rollout, func(step RolloutStep) error {
		applied = append(applied, step.TrafficPercentage)
		return nil
	})
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{50, 100}, applied, 1e-9)
	assert.True(t, rollout.Done())
	assert.Equal(t, 100.0, rollout.CurrentTraffic())

	production, ok := reg.GetProduction(ctx, "churn")
	require.True(t, ok)
	assert.Equal(t, b, production.VersionID)
}

func TestExecuteRolloutHonorsCancellation(t *testing.T) {
	manager, reg := newTestManager(t)
	_, b := twoVersions(t, reg, "churn")

	rollout, err := manager.CreateRollout(context.Background(), "r1", "churn", b, StrategyGradual, RolloutOptions{
		InitialTraffic: 0.1,
		Increment:      0.1,
		StepInterval:   time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- manager.ExecuteRollout(ctx, rollout, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("rollout did not abort on cancellation")
	}
	assert.False(t, rollout.Done())
}
