package tbucket

import "time"

// setClock overrides a bucket's clock for deterministic tests and returns
// a restore func. Only test files in this package may reach the
// unexported clock field.
func setClock(clock *func() time.Time, fn func() time.Time) func() {
	prev := *clock
	*clock = fn
	return func() { *clock = prev }
}

func fakeClock(seconds float64) func() time.Time {
	return func() time.Time {
		return time.Unix(0, int64(seconds*float64(time.Second)))
	}
}
