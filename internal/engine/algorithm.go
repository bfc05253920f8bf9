package engine

import (
	"fmt"

	"github.com/atlas-quant/optopus-engine/internal/events"
	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Algorithm is a user-supplied callback: it reads the DataStore through the
// Engine's read accessors and calls NewStrategy to emit orders. Algorithms
// never mutate the DataStore directly.
type Algorithm func(eng *Engine) error

// registry holds registered algorithms in registration order, the way the
// teacher's StrategyRegistry keeps named strategy factories — simplified
// here to a plain ordered slice since the spec calls for invocation order,
// not lookup by name.
type registry struct {
	names      []string
	algorithms []Algorithm
}

func newRegistry() *registry {
	return &registry{}
}

// Register appends an algorithm under name, to be invoked in registration
// order on every loop iteration.
func (r *registry) Register(name string, algo Algorithm) {
	r.names = append(r.names, name)
	r.algorithms = append(r.algorithms, algo)
}

// runAll invokes every registered algorithm in order, recovering panics into
// AlgorithmFailure so one misbehaving algorithm cannot crash the loop, and
// joining every failure (panic or returned error) into one error via
// multierr so the caller can log a single line per iteration without
// truncating any individual failure.
func (r *registry) runAll(eng *Engine, logger *zap.Logger) error {
	var errs error
	for i, algo := range r.algorithms {
		name := r.names[i]
		if err := runOne(eng, algo); err != nil {
			wrapped := types.NewEngineError(types.KindAlgorithmFailure, name, err)
			logger.Warn("algorithm failed", zap.String("algorithm", name), zap.Error(err))
			eng.publish(events.AlgorithmFailureEvent{
				BaseEvent: events.BaseEvent{Type: events.EventAlgorithmFailure, Timestamp: eng.clock.Now()},
				Algorithm: name, Error: err.Error(),
			})
			errs = multierr.Append(errs, wrapped)
		}
	}
	return errs
}

func runOne(eng *Engine, algo Algorithm) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("algorithm panicked: %v", r)
		}
	}()
	return algo(eng)
}
