package outbox

import (
	"time"
)

const (
	// MaxTries is how many times an event is handed to one relay before
	// that relay is given up on.
	MaxTries = 3
	// MaxFailures is how many negative OKs from one relay give it up.
	MaxFailures = 2
)

// Policy decides when a relay is done with an event. A relay is done once
// it accepted the event, or when either limit is reached first.
type Policy struct {
	MaxTries    int
	MaxFailures int
}

var DefaultPolicy = Policy{MaxTries: MaxTries, MaxFailures: MaxFailures}

type Response struct {
	Success bool
	Message string
	At      time.Time
}

// Tries is the delivery history of one event on one relay.
type Tries struct {
	Attempts  []time.Time
	Responses []Response
}

func (t *Tries) Successes() (n int) {
	for _, r := range t.Responses {
		if r.Success {
			n++
		}
	}
	return
}

func (t *Tries) Failures() (n int) {
	for _, r := range t.Responses {
		if !r.Success {
			n++
		}
	}
	return
}

// Done applies the policy to a relay's history. Once true it stays true, as
// nothing is ever taken out of the history.
func (p Policy) Done(t *Tries) bool {
	if t == nil {
		return false
	}
	if t.Successes() > 0 {
		return true
	}
	return len(t.Attempts) >= p.MaxTries || t.Failures() >= p.MaxFailures
}
