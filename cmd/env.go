package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/cost"
	"github.com/sells-group/enrich-cli/internal/eligibility"
	"github.com/sells-group/enrich-cli/internal/enricher"
	"github.com/sells-group/enrich-cli/internal/resilience"
	"github.com/sells-group/enrich-cli/internal/scheduler"
	"github.com/sells-group/enrich-cli/internal/stage"
	"github.com/sells-group/enrich-cli/internal/store"
	"github.com/sells-group/enrich-cli/pkg/research"
)

// env bundles the wired components a command needs.
type env struct {
	Store     store.Store
	Registry  *stage.Registry
	Costs     *cost.Calculator
	Eval      *eligibility.Evaluator
	Scheduler *scheduler.Scheduler
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initRegistry() (*stage.Registry, error) {
	if path := cfg.Stages.CatalogPath; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "read stage catalog")
		}
		return stage.Parse(data)
	}
	return stage.Default()
}

// initLocalEnv wires the store-backed components without the provider
// client. Enough for estimates, status, review, and run history.
func initLocalEnv(ctx context.Context) (*env, error) {
	if err := cfg.Validate("local"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := initRegistry()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	costs := cost.NewCalculator(registry, cfg.Pricing.Overrides)
	return &env{
		Store:    st,
		Registry: registry,
		Costs:    costs,
		Eval:     eligibility.New(st, registry, costs),
	}, nil
}

// initRunEnv wires the full execution environment including the research
// provider and the scheduler.
func initRunEnv(ctx context.Context) (*env, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}
	e, err := initLocalEnv(ctx)
	if err != nil {
		return nil, err
	}

	client := research.NewClient(cfg.Provider.Key,
		research.WithBaseURL(cfg.Provider.BaseURL),
		research.WithRateLimit(cfg.Provider.RPS, cfg.Provider.Burst),
	)

	policy := resilience.DefaultPolicy()
	if cfg.Scheduler.RetryAttempts > 0 {
		policy.MaxAttempts = cfg.Scheduler.RetryAttempts
	}
	if cfg.Scheduler.RetryBaseMs > 0 {
		policy.BaseDelay = time.Duration(cfg.Scheduler.RetryBaseMs) * time.Millisecond
	}

	enr := enricher.NewProvider(client, policy)
	e.Scheduler = scheduler.New(e.Store, e.Registry, e.Eval, enr, e.Costs, scheduler.Config{
		Workers: cfg.Scheduler.Workers,
	})

	if err := scheduler.RecoverInterrupted(ctx, e.Store); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}
