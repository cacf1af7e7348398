// Package tokens provides token estimation utilities using tiktoken.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens with tiktoken, falling back to a chars/4
// heuristic when the encoding cannot be loaded.
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

// DefaultEncoding is cl100k_base, a close enough proxy for the models the
// worker talks to.
const DefaultEncoding = "cl100k_base"

var (
	globalEstimator     *Estimator
	globalEstimatorOnce sync.Once
)

// Get returns the shared estimator, building it on first use.
func Get() *Estimator {
	globalEstimatorOnce.Do(func() {
		var err error
		globalEstimator, err = New()
		if err != nil {
			globalEstimator = &Estimator{}
		}
	})
	return globalEstimator
}

// New creates a token estimator.
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Count returns the token count for a string.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.encoding.Encode(text, nil, nil))
}

// Estimate is a convenience function using the shared estimator.
func Estimate(text string) int {
	return Get().Count(text)
}
