package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// TerminalStage is the sentinel stage a job reaches when its last real stage
// completes. It has no queue and no handler.
const TerminalStage = "complete"

// Errors reported by the registry.
var (
	ErrUnknownJobType = errors.New("unknown job type")
	ErrUnknownStage   = errors.New("unknown stage")
)

// Registry holds the fixed ordered stage sequence per job type and the
// handler registered for each stage name. The sequences are immutable after
// registration: CompleteStage always advances to the next member, never
// branches.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string][]string
	handlers  map[string]Handler
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pipelines: make(map[string][]string),
		handlers:  make(map[string]Handler),
	}
}

// RegisterPipeline declares the ordered stage list for a job type.
func (r *Registry) RegisterPipeline(jobType string, stages ...string) error {
	if jobType == "" {
		return errors.New("job type is required")
	}
	if len(stages) == 0 {
		return fmt.Errorf("pipeline %q needs at least one stage", jobType)
	}
	seen := make(map[string]struct{}, len(stages))
	for _, stage := range stages {
		if stage == "" {
			return fmt.Errorf("pipeline %q contains an empty stage name", jobType)
		}
		if stage == TerminalStage {
			return fmt.Errorf("pipeline %q may not declare the reserved stage %q", jobType, TerminalStage)
		}
		if _, dup := seen[stage]; dup {
			return fmt.Errorf("pipeline %q declares stage %q twice", jobType, stage)
		}
		seen[stage] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pipelines[jobType]; exists {
		return fmt.Errorf("pipeline %q already registered", jobType)
	}
	cp := make([]string, len(stages))
	copy(cp, stages)
	r.pipelines[jobType] = cp
	return nil
}

// RegisterHandler binds a handler to a stage name. Stage names are shared
// across job types; one handler serves a stage regardless of pipeline.
func (r *Registry) RegisterHandler(stage string, handler Handler) error {
	if stage == "" {
		return errors.New("stage name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for stage %q is nil", stage)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[stage]; exists {
		return fmt.Errorf("handler for stage %q already registered", stage)
	}
	r.handlers[stage] = handler
	return nil
}

// Handler returns the handler bound to a stage.
func (r *Registry) Handler(stage string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[stage]
	return handler, ok
}

// HandlerStages returns the sorted list of stages that have handlers.
func (r *Registry) HandlerStages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stages := make([]string, 0, len(r.handlers))
	for stage := range r.handlers {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	return stages
}

// JobTypes returns the sorted list of registered job types.
func (r *Registry) JobTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.pipelines))
	for jobType := range r.pipelines {
		types = append(types, jobType)
	}
	sort.Strings(types)
	return types
}

// Stages returns the stage list for a job type.
func (r *Registry) Stages(jobType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stages, ok := r.pipelines[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	cp := make([]string, len(stages))
	copy(cp, stages)
	return cp, nil
}

// FirstStage returns the stage new jobs of a type begin at.
func (r *Registry) FirstStage(jobType string) (string, error) {
	stages, err := r.Stages(jobType)
	if err != nil {
		return "", err
	}
	return stages[0], nil
}

// NextStage returns the stage after the given one in the job type's fixed
// sequence. The last real stage advances to TerminalStage.
func (r *Registry) NextStage(jobType, stage string) (string, error) {
	if stage == TerminalStage {
		return "", fmt.Errorf("%w: %s is terminal", ErrUnknownStage, stage)
	}
	stages, err := r.Stages(jobType)
	if err != nil {
		return "", err
	}
	for i, candidate := range stages {
		if candidate != stage {
			continue
		}
		if i == len(stages)-1 {
			return TerminalStage, nil
		}
		return stages[i+1], nil
	}
	return "", fmt.Errorf("%w: %s has no stage %s", ErrUnknownStage, jobType, stage)
}

// Contains reports whether a stage belongs to a job type's pipeline.
// TerminalStage is a member of every pipeline.
func (r *Registry) Contains(jobType, stage string) bool {
	if stage == TerminalStage {
		return true
	}
	stages, err := r.Stages(jobType)
	if err != nil {
		return false
	}
	for _, candidate := range stages {
		if candidate == stage {
			return true
		}
	}
	return false
}

// HealthChecks runs the optional health check of every registered handler.
func (r *Registry) HealthChecks(ctx context.Context) []Health {
	r.mu.RLock()
	handlers := make(map[string]Handler, len(r.handlers))
	for stage, handler := range r.handlers {
		handlers[stage] = handler
	}
	r.mu.RUnlock()

	stages := make([]string, 0, len(handlers))
	for stage := range handlers {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	checks := make([]Health, 0, len(stages))
	for _, stage := range stages {
		if checker, ok := handlers[stage].(HealthChecker); ok {
			checks = append(checks, checker.HealthCheck(ctx))
			continue
		}
		checks = append(checks, Healthy(stage))
	}
	return checks
}
