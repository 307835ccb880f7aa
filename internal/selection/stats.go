package selection

import "sync/atomic"

// counters are updated by the watcher goroutine and read by anyone.
type counters struct {
	selections atomic.Uint64
	superseded atomic.Uint64
	emitted    atomic.Uint64
	duplicates atomic.Uint64
	rejected   atomic.Uint64
}

// Stats is a snapshot of watcher activity.
type Stats struct {
	// Selections counts selection events that opened a pipe.
	Selections uint64
	// Superseded counts pipes dropped because a newer selection arrived
	// before they were read.
	Superseded uint64
	Emitted    uint64
	Duplicates uint64
	// Rejected counts selections that failed to read or decode.
	Rejected uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Selections: c.selections.Load(),
		Superseded: c.superseded.Load(),
		Emitted:    c.emitted.Load(),
		Duplicates: c.duplicates.Load(),
		Rejected:   c.rejected.Load(),
	}
}
