package decentdb

import "time"

// Clock is the monotonic time source the checkpoint-interval trigger reads
// (spec §9 design note: "treat time as a monotonic counter injected
// through a trait/interface to keep tests deterministic" rather than
// calling time.Now() directly from the checkpoint path).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production Clock, backed by the wall clock.
var RealClock Clock = realClock{}
