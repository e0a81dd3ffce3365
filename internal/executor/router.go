package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bookpipeline/internal/apperr"
)

// Route is where a run for an environment is dispatched.
type Route struct {
	Kind   Kind   `json:"kind"`
	Target string `json:"target"`
}

// Router maps environments to executors: local runs go to a background
// process, every other environment to the remote worker queue.
type Router struct {
	local       Executor
	remote      Executor
	workDir     string
	queuePrefix string
	logger      *slog.Logger
}

type RouterConfig struct {
	Local       Executor
	Remote      Executor
	WorkDir     string
	QueuePrefix string
	Logger      *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.QueuePrefix == "" {
		cfg.QueuePrefix = "books"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		local:       cfg.Local,
		remote:      cfg.Remote,
		workDir:     cfg.WorkDir,
		queuePrefix: cfg.QueuePrefix,
		logger:      cfg.Logger.With("component", "executor"),
	}
}

func (r *Router) Route(env Environment) (Route, error) {
	switch env {
	case EnvLocal:
		return Route{Kind: KindLocal, Target: r.workDir}, nil
	case EnvDebugging, EnvStaging, EnvProduction:
		return Route{Kind: KindRemote, Target: fmt.Sprintf("%s-%s", r.queuePrefix, env)}, nil
	default:
		return Route{}, apperr.Invalid("unknown environment %q", env)
	}
}

// Dispatch starts a run on the executor routed for req.Environment. Any
// failure to start is reported as ErrExecutorUnreachable.
func (r *Router) Dispatch(ctx context.Context, req DispatchRequest) (Dispatch, error) {
	route, err := r.Route(req.Environment)
	if err != nil {
		return Dispatch{}, err
	}
	ex, err := r.executor(route.Kind)
	if err != nil {
		return Dispatch{}, err
	}

	d, err := ex.Dispatch(ctx, route.Target, req)
	if err != nil {
		r.logger.Warn("dispatch failed", "environment", req.Environment, "target", route.Target, "error", err)
		return Dispatch{}, unreachable("dispatch", err)
	}
	d.Kind = route.Kind
	d.Target = route.Target
	r.logger.Info("run dispatched", "run_id", d.RunID, "batch_id", req.BatchID, "kind", d.Kind, "target", d.Target, "scoped_items", len(req.Items))
	return d, nil
}

func (r *Router) Status(ctx context.Context, kind Kind, runID, handle string) (Status, error) {
	ex, err := r.executor(kind)
	if err != nil {
		return Status{}, err
	}
	st, err := ex.Status(ctx, runID, handle)
	if err != nil {
		if errors.Is(err, ErrRunUnknown) {
			return Status{}, err
		}
		return Status{}, unreachable("status", err)
	}
	return st, nil
}

// Stop asks the executor to kill a run. It is best effort.
func (r *Router) Stop(ctx context.Context, kind Kind, runID, handle string) error {
	ex, err := r.executor(kind)
	if err != nil {
		return err
	}
	if err := ex.Stop(ctx, runID, handle); err != nil {
		if errors.Is(err, ErrRunUnknown) {
			return err
		}
		return unreachable("stop", err)
	}
	return nil
}

func (r *Router) executor(kind Kind) (Executor, error) {
	var ex Executor
	switch kind {
	case KindLocal:
		ex = r.local
	case KindRemote:
		ex = r.remote
	default:
		return nil, apperr.Invalid("unknown executor kind %q", kind)
	}
	if ex == nil {
		return nil, fmt.Errorf("%w: no %s executor configured", apperr.ErrExecutorUnreachable, kind)
	}
	return ex, nil
}

func unreachable(op string, err error) error {
	if errors.Is(err, apperr.ErrExecutorUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", apperr.ErrExecutorUnreachable, op, err)
}
