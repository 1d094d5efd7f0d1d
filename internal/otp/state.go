package otp

import (
	"fmt"

	"github.com/charlesng35/passgate/internal/models"
)

// Event drives a one-time code between states.
type Event string

const (
	EventDispatched Event = "dispatched"
	EventRemembered Event = "remembered"
	EventConsumed   Event = "consumed"
)

var transitions = map[models.OTPState]map[Event]models.OTPState{
	models.OTPStatePending: {
		EventDispatched: models.OTPStateIssued,
	},
	models.OTPStateIssued: {
		EventRemembered: models.OTPStateSentinel,
		EventConsumed:   models.OTPStateConsumed,
	},
	models.OTPStateSentinel: {
		EventConsumed: models.OTPStateConsumed,
	},
}

// Next returns the state reached from current on event.
func Next(current models.OTPState, event Event) (models.OTPState, error) {
	if next, ok := transitions[current][event]; ok {
		return next, nil
	}
	return "", fmt.Errorf("otp: invalid transition %s --%s-->", current, event)
}

// AcceptsCode reports whether a record in state may be matched against a submitted code.
// Sentinel records never accept codes; their follow-up step consumes them directly.
func AcceptsCode(state models.OTPState) bool {
	return state == models.OTPStateIssued
}
