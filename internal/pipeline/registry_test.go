package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"pressroom/internal/pipeline"
)

func newArticleRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()
	registry := pipeline.NewRegistry()
	if err := registry.RegisterPipeline("article", "research", "outline", "draft", "qa", "schema"); err != nil {
		t.Fatalf("register pipeline: %v", err)
	}
	return registry
}

func TestRegisterPipelineRejectsBadInput(t *testing.T) {
	registry := pipeline.NewRegistry()

	if err := registry.RegisterPipeline("", "a"); err == nil {
		t.Error("empty job type accepted")
	}
	if err := registry.RegisterPipeline("article"); err == nil {
		t.Error("empty stage list accepted")
	}
	if err := registry.RegisterPipeline("article", "draft", "draft"); err == nil {
		t.Error("duplicate stage accepted")
	}
	if err := registry.RegisterPipeline("article", "draft", pipeline.TerminalStage); err == nil {
		t.Error("reserved terminal stage accepted")
	}
	if err := registry.RegisterPipeline("article", "draft"); err != nil {
		t.Fatalf("valid pipeline rejected: %v", err)
	}
	if err := registry.RegisterPipeline("article", "qa"); err == nil {
		t.Error("duplicate job type accepted")
	}
}

func TestNextStageWalksTheSequence(t *testing.T) {
	registry := newArticleRegistry(t)

	cases := []struct {
		from, want string
	}{
		{"research", "outline"},
		{"outline", "draft"},
		{"draft", "qa"},
		{"qa", "schema"},
		{"schema", pipeline.TerminalStage},
	}
	for _, tc := range cases {
		got, err := registry.NextStage("article", tc.from)
		if err != nil {
			t.Fatalf("next after %s: %v", tc.from, err)
		}
		if got != tc.want {
			t.Errorf("next after %s: want %s, got %s", tc.from, tc.want, got)
		}
	}
}

func TestNextStageErrors(t *testing.T) {
	registry := newArticleRegistry(t)

	if _, err := registry.NextStage("newsletter", "research"); !errors.Is(err, pipeline.ErrUnknownJobType) {
		t.Errorf("expected ErrUnknownJobType, got %v", err)
	}
	if _, err := registry.NextStage("article", "publish"); !errors.Is(err, pipeline.ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
	if _, err := registry.NextStage("article", pipeline.TerminalStage); err == nil {
		t.Error("terminal stage has no next, expected error")
	}
}

func TestFirstStage(t *testing.T) {
	registry := newArticleRegistry(t)

	first, err := registry.FirstStage("article")
	if err != nil {
		t.Fatalf("first stage: %v", err)
	}
	if first != "research" {
		t.Fatalf("want research, got %s", first)
	}
}

func TestContains(t *testing.T) {
	registry := newArticleRegistry(t)

	if !registry.Contains("article", "draft") {
		t.Error("draft should be a member")
	}
	if !registry.Contains("article", pipeline.TerminalStage) {
		t.Error("terminal stage should be a member of every pipeline")
	}
	if registry.Contains("article", "publish") {
		t.Error("publish is not a member")
	}
	if registry.Contains("newsletter", "draft") {
		t.Error("unknown job type should contain nothing")
	}
}

func TestHandlerRegistration(t *testing.T) {
	registry := newArticleRegistry(t)
	noop := pipeline.HandlerFunc(func(context.Context, *pipeline.JobContext) (pipeline.Result, error) {
		return pipeline.Result{Complete: true}, nil
	})

	if err := registry.RegisterHandler("draft", noop); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	if err := registry.RegisterHandler("draft", noop); err == nil {
		t.Error("duplicate handler accepted")
	}
	if err := registry.RegisterHandler("", noop); err == nil {
		t.Error("empty stage accepted")
	}
	if err := registry.RegisterHandler("qa", nil); err == nil {
		t.Error("nil handler accepted")
	}

	if _, ok := registry.Handler("draft"); !ok {
		t.Error("registered handler not found")
	}
	if _, ok := registry.Handler("qa"); ok {
		t.Error("phantom handler found")
	}

	stages := registry.HandlerStages()
	if len(stages) != 1 || stages[0] != "draft" {
		t.Fatalf("unexpected handler stages: %v", stages)
	}
}

type fakeHealthHandler struct {
	health pipeline.Health
}

func (h fakeHealthHandler) Execute(context.Context, *pipeline.JobContext) (pipeline.Result, error) {
	return pipeline.Result{Complete: true}, nil
}

func (h fakeHealthHandler) HealthCheck(context.Context) pipeline.Health {
	return h.health
}

func TestHealthChecks(t *testing.T) {
	registry := newArticleRegistry(t)

	if err := registry.RegisterHandler("draft", fakeHealthHandler{
		health: pipeline.Unhealthy("draft", "model offline"),
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	noop := pipeline.HandlerFunc(func(context.Context, *pipeline.JobContext) (pipeline.Result, error) {
		return pipeline.Result{}, nil
	})
	if err := registry.RegisterHandler("qa", noop); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	checks := registry.HealthChecks(context.Background())
	if len(checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(checks))
	}
	// Sorted by stage: draft then qa.
	if checks[0].Stage != "draft" || checks[0].Ready || checks[0].Detail != "model offline" {
		t.Fatalf("unexpected draft check: %+v", checks[0])
	}
	if checks[1].Stage != "qa" || !checks[1].Ready {
		t.Fatalf("handler without a checker should default healthy: %+v", checks[1])
	}
}
