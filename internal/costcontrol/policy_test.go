package costcontrol_test

import (
	"testing"
	"time"

	"github.com/compresr/realtime-gateway/internal/costcontrol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateAdmission(t *testing.T) {
	limits := costcontrol.DefaultCostLimits()

	tests := []struct {
		name          string
		usage         costcontrol.DailyUsage
		wantAllowed   bool
		wantReason    string
		wantWarnings  int
		wantRemaining costcontrol.Remaining
	}{
		{
			name:          "fresh day",
			usage:         costcontrol.DailyUsage{},
			wantAllowed:   true,
			wantRemaining: costcontrol.Remaining{Cost: 10, Sessions: 50},
		},
		{
			name:          "session limit wins over cost headroom",
			usage:         costcontrol.DailyUsage{Sessions: 50, Cost: 2.0},
			wantReason:    "daily session limit reached",
			wantRemaining: costcontrol.Remaining{Cost: 8, Sessions: 0},
		},
		{
			name:          "cost limit",
			usage:         costcontrol.DailyUsage{Sessions: 3, Cost: 10.0},
			wantReason:    "daily cost limit reached",
			wantRemaining: costcontrol.Remaining{Cost: 0, Sessions: 47},
		},
		{
			name:          "cost warning",
			usage:         costcontrol.DailyUsage{Sessions: 1, Cost: 8.0},
			wantAllowed:   true,
			wantWarnings:  1,
			wantRemaining: costcontrol.Remaining{Cost: 2, Sessions: 49},
		},
		{
			name:          "both warnings",
			usage:         costcontrol.DailyUsage{Sessions: 40, Cost: 9.5},
			wantAllowed:   true,
			wantWarnings:  2,
			wantRemaining: costcontrol.Remaining{Cost: 0.5, Sessions: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := costcontrol.EvaluateAdmission(tt.usage, limits)
			assert.Equal(t, tt.wantAllowed, got.Allowed)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Len(t, got.Warnings, tt.wantWarnings)
			assert.InDelta(t, tt.wantRemaining.Cost, got.Remaining.Cost, 1e-9)
			assert.Equal(t, tt.wantRemaining.Sessions, got.Remaining.Sessions)
		})
	}
}

func TestEvaluateAdmission_Deterministic(t *testing.T) {
	limits := costcontrol.DefaultCostLimits()
	usage := costcontrol.DailyUsage{Sessions: 45, Cost: 9.0}

	first := costcontrol.EvaluateAdmission(usage, limits)
	second := costcontrol.EvaluateAdmission(usage, limits)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{
		"Approaching daily cost limit: $9.00/$10.00",
		"Approaching daily session limit: 45/50",
	}, first.Warnings)
}

func TestEvaluateUsage_CostWarningOnce(t *testing.T) {
	limits := costcontrol.DefaultCostLimits()
	start := time.Now()
	state := &costcontrol.SessionState{ID: "s", StartTime: start, Cost: 0.42, WarningsSent: map[string]bool{}}

	first := costcontrol.EvaluateUsage(state, limits, start.Add(time.Second))
	require.Len(t, first.Warnings, 1)
	assert.Contains(t, first.Warnings[0], "approaching cost limit")
	assert.False(t, first.ShouldTerminate)

	state.Cost = 0.45
	second := costcontrol.EvaluateUsage(state, limits, start.Add(2*time.Second))
	assert.Empty(t, second.Warnings)
	assert.False(t, second.ShouldTerminate)
}

func TestEvaluateUsage_TerminateIsSticky(t *testing.T) {
	limits := costcontrol.DefaultCostLimits()
	start := time.Now()
	state := &costcontrol.SessionState{ID: "s", StartTime: start, Cost: 0.50, WarningsSent: map[string]bool{}}

	first := costcontrol.EvaluateUsage(state, limits, start)
	assert.True(t, first.ShouldTerminate)
	assert.Equal(t, costcontrol.ReasonSessionCostLimit, first.Reason)
	assert.Len(t, first.Warnings, 1)

	// Raising the limit afterwards does not revive the session.
	limits.MaxCostPerSession = 5
	second := costcontrol.EvaluateUsage(state, limits, start)
	assert.True(t, second.ShouldTerminate)
	assert.Equal(t, costcontrol.ReasonSessionCostLimit, second.Reason)
	assert.Empty(t, second.Warnings)
}

func TestEvaluateUsage_Duration(t *testing.T) {
	limits := costcontrol.DefaultCostLimits() // 300s
	start := time.Now()
	state := &costcontrol.SessionState{ID: "s", StartTime: start, WarningsSent: map[string]bool{}}

	r := costcontrol.EvaluateUsage(state, limits, start.Add(100*time.Second))
	assert.Empty(t, r.Warnings)
	assert.Equal(t, 200*time.Second, r.RemainingTime)

	r = costcontrol.EvaluateUsage(state, limits, start.Add(250*time.Second))
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "Session approaching duration limit: 250s/300s", r.Warnings[0])
	assert.False(t, r.ShouldTerminate)

	r = costcontrol.EvaluateUsage(state, limits, start.Add(300*time.Second))
	assert.True(t, r.ShouldTerminate)
	assert.Equal(t, costcontrol.ReasonSessionDurationLimit, r.Reason)
	assert.Zero(t, r.RemainingTime)
}

func TestEvaluateDuration_Countdown(t *testing.T) {
	limits := costcontrol.DefaultCostLimits() // 300s, 0.8 threshold
	start := time.Now()
	state := &costcontrol.SessionState{ID: "s", StartTime: start, WarningsSent: map[string]bool{}}

	r := costcontrol.EvaluateDuration(state, limits, start.Add(240*time.Second), 0.9)
	assert.Len(t, r.Warnings, 1, "threshold warning only")

	r = costcontrol.EvaluateDuration(state, limits, start.Add(270*time.Second), 0.9)
	assert.Equal(t, []string{"Session will end in 30 seconds"}, r.Warnings)

	r = costcontrol.EvaluateDuration(state, limits, start.Add(280*time.Second), 0.9)
	assert.Empty(t, r.Warnings)
	assert.False(t, r.ShouldTerminate)

	r = costcontrol.EvaluateDuration(state, limits, start.Add(301*time.Second), 0.9)
	assert.True(t, r.ShouldTerminate)
}

func TestEvaluateDuration_CountdownDisabled(t *testing.T) {
	limits := costcontrol.DefaultCostLimits()
	start := time.Now()
	state := &costcontrol.SessionState{ID: "s", StartTime: start, WarningsSent: map[string]bool{}}
	state.WarningsSent["session_duration_warning"] = true

	r := costcontrol.EvaluateDuration(state, limits, start.Add(290*time.Second), 0)
	assert.Empty(t, r.Warnings)
}

func TestCostLimits_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*costcontrol.CostLimits)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*costcontrol.CostLimits) {}},
		{name: "zero session cost", mutate: func(l *costcontrol.CostLimits) { l.MaxCostPerSession = 0 }, wantErr: true},
		{name: "negative day cost", mutate: func(l *costcontrol.CostLimits) { l.MaxCostPerDay = -1 }, wantErr: true},
		{name: "zero duration", mutate: func(l *costcontrol.CostLimits) { l.MaxSessionDurationSeconds = 0 }, wantErr: true},
		{name: "zero sessions", mutate: func(l *costcontrol.CostLimits) { l.MaxDailySessions = 0 }, wantErr: true},
		{name: "threshold above one", mutate: func(l *costcontrol.CostLimits) { l.WarningThreshold = 1.5 }, wantErr: true},
		{name: "threshold one", mutate: func(l *costcontrol.CostLimits) { l.WarningThreshold = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := costcontrol.DefaultCostLimits()
			tt.mutate(&l)
			err := l.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
