// Package orchestrator runs the scheduled stage sequence: a business-hours
// guard, a run lock, and an ordered stage plan with per-stage isolation.
package orchestrator

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
)

// Metrics is the free-form summary a stage reports for the run log.
type Metrics map[string]any

// Stage is one named step of a run.
type Stage interface {
	Name() string
	Run(ctx context.Context) (Metrics, error)
}

// Metricser is implemented by stage results.
type Metricser interface {
	Metrics() map[string]any
}

type funcStage struct {
	name string
	run  func(ctx context.Context) (Metrics, error)
}

func (s funcStage) Name() string                             { return s.name }
func (s funcStage) Run(ctx context.Context) (Metrics, error) { return s.run(ctx) }

// Func wraps a function as a Stage.
func Func(name string, run func(ctx context.Context) (Metrics, error)) Stage {
	return funcStage{name: name, run: run}
}

// Adapt wraps a component whose Run returns a typed result.
func Adapt[R Metricser](name string, run func(ctx context.Context) (R, error)) Stage {
	return Func(name, func(ctx context.Context) (Metrics, error) {
		res, err := run(ctx)
		return Metrics(res.Metrics()), err
	})
}

// Registry maps stage names to stages.
type Registry struct {
	stages map[string]Stage
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

// Register adds s. Registering a name twice is an error.
func (r *Registry) Register(s Stage) error {
	name := s.Name()
	if name == "" {
		return eris.New("orchestrator: stage name is empty")
	}
	if _, ok := r.stages[name]; ok {
		return eris.Errorf("orchestrator: stage %q registered twice", name)
	}
	r.stages[name] = s
	return nil
}

// Get returns the stage registered under name.
func (r *Registry) Get(name string) (Stage, error) {
	s, ok := r.stages[name]
	if !ok {
		return nil, eris.Errorf("orchestrator: unknown stage %q", name)
	}
	return s, nil
}

// Names returns the registered stage names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.stages))
	for n := range r.stages {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
