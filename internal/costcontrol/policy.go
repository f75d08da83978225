package costcontrol

import (
	"fmt"
	"math"
	"time"
)

// =============================================================================
// ADMISSION
// =============================================================================

// EvaluateAdmission decides whether a new session may start given today's
// usage. It has no hidden state: the same inputs always give the same result.
func EvaluateAdmission(usage DailyUsage, limits CostLimits) AdmissionResult {
	result := AdmissionResult{
		Warnings: []string{},
		Remaining: Remaining{
			Cost:     math.Max(0, limits.MaxCostPerDay-usage.Cost),
			Sessions: max(0, limits.MaxDailySessions-usage.Sessions),
		},
	}

	if usage.Sessions >= limits.MaxDailySessions {
		result.Reason = ReasonDailySessionLimit
		return result
	}
	if usage.Cost >= limits.MaxCostPerDay {
		result.Reason = ReasonDailyCostLimit
		return result
	}

	result.Allowed = true
	if usage.Cost >= limits.MaxCostPerDay*limits.WarningThreshold {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Approaching daily cost limit: $%.2f/$%.2f", usage.Cost, limits.MaxCostPerDay))
	}
	if float64(usage.Sessions) >= float64(limits.MaxDailySessions)*limits.WarningThreshold {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Approaching daily session limit: %d/%d", usage.Sessions, limits.MaxDailySessions))
	}
	return result
}

// =============================================================================
// IN-SESSION LIMITS
// =============================================================================

// EvaluateUsage checks a session's accumulated cost and elapsed time against
// the per-session limits. Threshold warnings are recorded in
// state.WarningsSent and returned at most once per session; termination is
// reported on every call once a limit has been reached.
func EvaluateUsage(state *SessionState, limits CostLimits, now time.Time) UsageResult {
	elapsed := now.Sub(state.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}
	maxDur := limits.MaxSessionDuration()

	result := UsageResult{
		Warnings:      []string{},
		SessionCost:   state.Cost,
		Elapsed:       elapsed,
		RemainingCost: math.Max(0, limits.MaxCostPerSession-state.Cost),
		RemainingTime: max(0, maxDur-elapsed),
	}

	switch {
	case state.Cost >= limits.MaxCostPerSession:
		state.markBreach(ReasonSessionCostLimit)
		if state.warnOnce(warnSessionCostLimit) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Session cost limit reached: $%.4f", state.Cost))
		}
	case state.Cost >= limits.MaxCostPerSession*limits.WarningThreshold:
		if state.warnOnce(warnSessionCost) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Session approaching cost limit: $%.4f/$%.2f", state.Cost, limits.MaxCostPerSession))
		}
	}

	switch {
	case elapsed >= maxDur:
		state.markBreach(ReasonSessionDurationLimit)
		if state.warnOnce(warnDurationLimit) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Session duration limit reached: %.0fs", elapsed.Seconds()))
		}
	case elapsed.Seconds() >= maxDur.Seconds()*limits.WarningThreshold:
		if state.warnOnce(warnDurationApproach) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Session approaching duration limit: %.0fs/%ds", elapsed.Seconds(), limits.MaxSessionDurationSeconds))
		}
	}

	if state.breach != "" {
		result.ShouldTerminate = true
		result.Reason = state.breach
	}
	return result
}

// EvaluateDuration is the periodic check for sessions that may see no usage
// at all. On top of EvaluateUsage it emits a single countdown warning once
// elapsed time passes countdownFraction of the duration limit.
func EvaluateDuration(state *SessionState, limits CostLimits, now time.Time, countdownFraction float64) UsageResult {
	result := EvaluateUsage(state, limits, now)
	if result.ShouldTerminate || countdownFraction <= 0 {
		return result
	}

	maxDur := limits.MaxSessionDuration()
	if result.Elapsed.Seconds() >= maxDur.Seconds()*countdownFraction && state.warnOnce(warnDurationCountdown) {
		left := int(math.Ceil(result.RemainingTime.Seconds()))
		result.Warnings = append(result.Warnings, fmt.Sprintf("Session will end in %d seconds", left))
	}
	return result
}

func (s *SessionState) markBreach(reason string) {
	if s.breach == "" {
		s.breach = reason
	}
}
