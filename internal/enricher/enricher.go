// Package enricher abstracts the external, cost-bearing work unit a
// normal stage invokes per entity.
package enricher

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/stage"
	"github.com/sells-group/enrich-cli/pkg/research"
)

// Task is one per-entity stage execution.
type Task struct {
	Entity  model.Entity
	Stage   stage.Definition
	Boosted bool
	// Context carries soft-dependency outputs when the stage's soft
	// context toggle is on; nil otherwise.
	Context []model.Completion
}

// Result holds the structured facts a stage execution produced.
type Result struct {
	Facts json.RawMessage
}

// Enricher executes stage work. Implementations block on the external
// call; the scheduler bounds concurrency around them.
type Enricher interface {
	Enrich(ctx context.Context, task Task) (*Result, error)
}

// Provider runs tasks against the research provider API with retry and a
// circuit breaker. The breaker sits outside the retry loop, so a task
// that exhausts its retries counts as one failure and an open breaker
// fails tasks without burning provider quota.
type Provider struct {
	client  research.Client
	retry   resilience.Policy
	breaker *resilience.Breaker
}

// NewProvider wraps a research client.
func NewProvider(client research.Client, retry resilience.Policy) *Provider {
	return &Provider{
		client:  client,
		retry:   retry,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerConfig()),
	}
}

func (p *Provider) Enrich(ctx context.Context, task Task) (*Result, error) {
	req := research.Request{
		Subject:      task.Entity.Name,
		Domain:       task.Entity.Domain,
		Jurisdiction: task.Entity.Jurisdiction,
		Task:         task.Stage.Code,
		Depth:        "standard",
	}
	if task.Boosted {
		req.Depth = "boosted"
	}
	if len(task.Context) > 0 {
		ctxPayload, err := marshalContext(task.Context)
		if err != nil {
			return nil, err
		}
		req.Context = ctxPayload
	}

	var resp *research.Response
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, p.retry, func(ctx context.Context) error {
			var callErr error
			resp, callErr = p.client.Research(ctx, req)
			return callErr
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "enricher: %s for %s", task.Stage.Code, task.Entity.Name)
	}
	return &Result{Facts: resp.Facts}, nil
}

// marshalContext flattens prior stage outputs into the provider's context
// payload, keyed by stage code.
func marshalContext(completions []model.Completion) (json.RawMessage, error) {
	payload := make(map[string]json.RawMessage, len(completions))
	for _, c := range completions {
		if len(c.Result) > 0 {
			payload[c.StageCode] = c.Result
		}
	}
	if len(payload) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "enricher: marshal context")
	}
	return b, nil
}

// Stub is an Enricher for tests and dry runs: it returns canned facts and
// optionally scripted failures.
type Stub struct {
	// Fail maps entity IDs to the error their execution should produce.
	Fail map[string]error
	// Facts overrides the canned payload.
	Facts json.RawMessage
}

func (s *Stub) Enrich(_ context.Context, task Task) (*Result, error) {
	if err, ok := s.Fail[task.Entity.ID]; ok {
		return nil, err
	}
	facts := s.Facts
	if facts == nil {
		facts, _ = json.Marshal(map[string]string{
			"stage":  task.Stage.Code,
			"entity": task.Entity.Name,
		})
	}
	return &Result{Facts: facts}, nil
}
