package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/makeabledk/firebasevision/pkg/lifecycle"
)

// StateReporter is anything that reports a lifecycle state, usually a
// *lifecycle.Controller.
type StateReporter interface {
	State() lifecycle.State
}

// Pinger is a dependency that can be probed with a round trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Lifecycle passes while the controller is streaming frames.
func Lifecycle(s StateReporter) Checker {
	return Checker{
		Name: "lifecycle",
		Check: func(context.Context) error {
			if st := s.State(); st != lifecycle.StateStarted {
				return fmt.Errorf("controller is %s", st)
			}
			return nil
		},
	}
}

// Available passes while available reports true. Used for the detector chain,
// which is unavailable once every circuit breaker is open.
func Available(name string, available func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !available() {
				return errors.New("all circuit breakers open")
			}
			return nil
		},
	}
}

// Ping passes when p answers within the check deadline.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}
