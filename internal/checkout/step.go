package checkout

import (
	"errors"
	"fmt"
)

type Step string

const (
	StepShipping     Step = "SHIPPING"
	StepBilling      Step = "BILLING"
	StepPayment      Step = "PAYMENT"
	StepConfirmation Step = "CONFIRMATION"
)

func (s Step) IsTerminal() bool {
	return s == StepConfirmation
}

// String representation (for logging)
func (s Step) String() string {
	return string(s)
}

type Event string

const (
	EventNext      Event = "NEXT"
	EventBack      Event = "BACK"
	EventSubmitted Event = "SUBMITTED"
)

var ErrIllegalTransition = errors.New("illegal transition of checkout step")

// Transition returns the step that follows from when ev happens. It does not
// run validation; callers check the guard for from before sending EventNext
// or EventSubmitted.
func Transition(from Step, ev Event) (Step, error) {
	switch ev {
	case EventNext:
		switch from {
		case StepShipping:
			return StepBilling, nil
		case StepBilling:
			return StepPayment, nil
		}
	case EventBack:
		switch from {
		case StepBilling:
			return StepShipping, nil
		case StepPayment:
			return StepBilling, nil
		}
	case EventSubmitted:
		if from == StepPayment {
			return StepConfirmation, nil
		}
	}
	return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
}

// CanTransitionTo reports whether a single event leads from one step to the
// other.
func CanTransitionTo(from, to Step) bool {
	for _, ev := range []Event{EventNext, EventBack, EventSubmitted} {
		if next, err := Transition(from, ev); err == nil && next == to {
			return true
		}
	}
	return false
}
