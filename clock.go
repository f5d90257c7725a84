package companion

import "time"

// Clock is the injectable time source used for cooldown checks and
// time-window conditions. Inject a fixed clock in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default wall-clock source.
var SystemClock Clock = systemClock{}
