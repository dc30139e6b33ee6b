package queue

import (
	"math/rand"
	"time"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/model"
)

// Default backoff shape.
const (
	DefaultBaseDelay = 500 * time.Millisecond
	DefaultMaxDelay  = 30 * time.Second
	DefaultJitter    = 0.2
)

// DefaultAttempts maps each provider error class to its total attempt
// budget. Transient failures get room to recover; request-shaped failures
// fail fast because retrying them cannot help.
func DefaultAttempts() map[model.ErrorClass]int {
	return map[model.ErrorClass]int{
		model.ErrorClassRateLimit:     5,
		model.ErrorClassServer:        3,
		model.ErrorClassNetwork:       3,
		model.ErrorClassModelNotFound: 2,
		model.ErrorClassBadRequest:    1,
		model.ErrorClassCapability:    1,
		model.ErrorClassUnknown:       2,
	}
}

// ClassifiedBackoff retries according to the provider error taxonomy: the
// failure class picks the attempt budget, the attempt number picks an
// exponential delay with jitter on top. A model_not_found failure runs the
// registry refresh hook before its one retry, giving a stale model registry
// a chance to catch up.
//
// The policy is stateless and safe to share across submissions.
type ClassifiedBackoff struct {
	// Base is the first retry delay; each further attempt doubles it.
	Base time.Duration

	// Max caps the pre-jitter delay.
	Max time.Duration

	// Jitter is the random fraction added on top of the delay.
	Jitter float64

	// Attempts overrides the per-class total attempt budgets. Classes
	// without an entry fail terminally on their first error.
	Attempts map[model.ErrorClass]int

	// RefreshRegistry, when set, runs before a model_not_found retry.
	RefreshRegistry func()
}

var _ core.RetryPolicy = (*ClassifiedBackoff)(nil)

// NewClassifiedBackoff returns the policy with the default shape and
// budgets. Adjust fields before first use.
func NewClassifiedBackoff() *ClassifiedBackoff {
	return &ClassifiedBackoff{
		Base:     DefaultBaseDelay,
		Max:      DefaultMaxDelay,
		Jitter:   DefaultJitter,
		Attempts: DefaultAttempts(),
	}
}

// NextDelay implements core.RetryPolicy.
func (p *ClassifiedBackoff) NextDelay(attempt int, err error) (time.Duration, bool) {
	class := model.Classify(err)
	budget := p.Attempts[class]
	if attempt >= budget {
		return 0, false
	}
	if class == model.ErrorClassModelNotFound && p.RefreshRegistry != nil {
		p.RefreshRegistry()
	}
	return p.delay(attempt), true
}

func (p *ClassifiedBackoff) delay(attempt int) time.Duration {
	d := p.Base << (attempt - 1)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		d += time.Duration(p.Jitter * rand.Float64() * float64(d))
	}
	return d
}

// NoRetry fails every task terminally on its first error.
type NoRetry struct{}

var _ core.RetryPolicy = NoRetry{}

// NextDelay implements core.RetryPolicy.
func (NoRetry) NextDelay(int, error) (time.Duration, bool) { return 0, false }
