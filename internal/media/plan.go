package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
)

// DefaultMaxAttempts is the attempt budget of one acquisition cycle.
const DefaultMaxAttempts = 4

// Tiers lists the capture requests tried in order when asking for the given
// kinds, best first: both kinds from top down to low, then audio alone, then
// low video alone. Entries are restricted to the requested kinds and
// duplicates dropped.
func Tiers(audio, video bool, top Tier) []Constraints {
	var all []Constraints
	for t := top; t >= TierLow; t-- {
		all = append(all, Constraints{Audio: true, Video: true, Tier: t})
	}
	all = append(all,
		Constraints{Audio: true},
		Constraints{Video: true, Tier: TierLow},
	)

	var out []Constraints
	seen := make(map[Constraints]bool)
	for _, c := range all {
		c.Audio = c.Audio && audio
		c.Video = c.Video && video
		if !c.Audio && !c.Video {
			continue
		}
		if !c.Video {
			c.Tier = TierLow
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// step is what the plan wants after a failed attempt.
type step struct {
	wait  time.Duration
	done  bool
	err   error
	retry bool
}

// plan is the retry state machine of one acquisition cycle: a position in
// the tier list and the attempts spent so far.
type plan struct {
	tiers    []Constraints
	idx      int
	attempts int
	budget   int
	backoff  *backoff.ExponentialBackOff
	lastErr  error
}

func newPlan(tiers []Constraints, maxAttempts int, base time.Duration) *plan {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = base * 16
	b.MaxElapsedTime = 0
	b.Clock = backoff.SystemClock
	b.Reset()

	return &plan{
		tiers:   tiers,
		budget:  max(maxAttempts, len(tiers)),
		backoff: b,
	}
}

// current is the request for the next attempt.
func (p *plan) current() Constraints {
	return p.tiers[p.idx]
}

// begin records that an attempt is starting.
func (p *plan) begin() {
	p.attempts++
}

// fail decides what follows a failed attempt.
func (p *plan) fail(err error) step {
	p.lastErr = err

	switch {
	case errors.Is(err, callerr.ErrOverConstrained):
		p.idx++
		return p.next(0)

	case errors.Is(err, callerr.ErrDeviceBusy):
		untried := len(p.tiers) - p.idx - 1
		if p.budget-p.attempts > untried {
			return step{wait: p.backoff.NextBackOff(), retry: true}
		}
		// No backoff between tiers.
		p.idx++
		return p.next(0)
	}

	// Permission, missing devices and anything unclassified end the cycle.
	return step{done: true, err: err}
}

func (p *plan) next(wait time.Duration) step {
	if p.idx >= len(p.tiers) || p.attempts >= p.budget {
		return step{done: true, err: p.exhausted()}
	}
	return step{wait: wait}
}

func (p *plan) exhausted() error {
	return &callerr.Error{
		Op:  "acquire",
		Err: fmt.Errorf("%w: %w", callerr.ErrCaptureExhausted, p.lastErr),
	}
}
