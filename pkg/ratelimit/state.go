// Package ratelimit paces requests to a provider's request budget and honours
// the "remaining requests" headers public Dota APIs send back.
package ratelimit

import (
	"time"
)

// Redis key templates for shared rate limit state. %s is the provider name.
const (
	RedisKeyRemaining   = "dota:ratelimit:%s:remaining"
	RedisKeyResetAt     = "dota:ratelimit:%s:reset_at"
	RedisKeyLastRequest = "dota:ratelimit:%s:last_request"
)

// RemainingUnknown marks a state that has not seen a rate limit header yet.
const RemainingUnknown = -1

// ThresholdWarning doubles the request interval when fewer requests than this
// remain in the current window.
const ThresholdWarning = 5

// State is the rate limit budget for one provider.
type State struct {
	// Remaining requests in the current window, or RemainingUnknown.
	Remaining int `json:"remaining"`

	// ResetAt is when the provider window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when Remaining was last read from response headers.
	LastUpdate time.Time `json:"last_update"`

	// LastRequest is when the last request was let through.
	LastRequest time.Time `json:"last_request"`
}

// DefaultState returns a state with an unknown budget.
func DefaultState() *State {
	return &State{Remaining: RemainingUnknown}
}

// Exhausted returns true if the window budget is spent and has not reset yet.
func (s *State) Exhausted(now time.Time) bool {
	return s.Remaining == 0 && now.Before(s.ResetAt)
}

// NeedsThrottling returns true if the budget is low but not spent.
func (s *State) NeedsThrottling(now time.Time) bool {
	return s.Remaining > 0 && s.Remaining < ThresholdWarning && now.Before(s.ResetAt)
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
