package trip

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"fleetride/backend/services/trip-service/internal/models"
)

// Trip lifecycle events.
const (
	EventStart    = "start"
	EventComplete = "complete"
)

var errMissingEnd = errors.New("completed trip needs end time and end location")

// newMachine builds the status machine positioned at current.
// completed is terminal: no event leaves it.
func newMachine(current models.TripStatus) *fsm.FSM {
	return fsm.NewFSM(
		string(current),
		fsm.Events{
			{Name: EventStart, Src: []string{string(models.TripStatusReserved)}, Dst: string(models.TripStatusActive)},
			{Name: EventComplete, Src: []string{string(models.TripStatusActive)}, Dst: string(models.TripStatusCompleted)},
		},
		fsm.Callbacks{
			"before_" + EventComplete: func(_ context.Context, e *fsm.Event) {
				t, ok := e.Args[0].(models.Trip)
				if !ok || t.EndTime == nil || t.EndLocation == nil {
					e.Cancel(errMissingEnd)
				}
			},
		},
	)
}

// Transition validates event from the current status. t is the trip as it would be after the event.
func Transition(current models.TripStatus, event string, t models.Trip) error {
	m := newMachine(current)
	if err := m.Event(context.Background(), event, t); err != nil {
		var canceled fsm.CanceledError
		if errors.As(err, &canceled) && canceled.Err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidTripState, event, canceled.Err)
		}
		return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTripState, event, current, err)
	}
	return nil
}

// CanTransition reports whether event is legal from current.
func CanTransition(current models.TripStatus, event string) bool {
	return newMachine(current).Can(event)
}
