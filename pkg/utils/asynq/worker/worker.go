// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nops-io/ccost-roles/pkg/core/config"
	"github.com/nops-io/ccost-roles/pkg/core/registry"
)

// Option is a function, which configures the [Worker].
type Option func(conf *asynq.Config)

// Worker wraps an [asynq.Server] and [asynq.ServeMux] with additional
// convenience methods for task handlers.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// WithLogLevel is an [Option], which configures the log level of the [Worker].
func WithLogLevel(level asynq.LogLevel) Option {
	opt := func(conf *asynq.Config) {
		conf.LogLevel = level
	}

	return opt
}

// WithErrorHandler is an [Option], which configures the [Worker] to use the
// specified [asynq.ErrorHandler].
func WithErrorHandler(handler asynq.ErrorHandler) Option {
	opt := func(conf *asynq.Config) {
		conf.ErrorHandler = handler
	}

	return opt
}

// NewFromConfig creates a new [Worker] based on the provided
// [config.WorkerConfig] spec, which consumes tasks from the given queue.
//
// Reconciliation runs must not overlap, so a concurrency other than one is
// only honoured for deployments, which serialize runs by other means.
func NewFromConfig(r asynq.RedisClientOpt, conf config.WorkerConfig, queue string, opts ...Option) *Worker {
	concurrency := conf.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	cfg := asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	worker := &Worker{
		server: asynq.NewServer(r, cfg),
		mux:    asynq.NewServeMux(),
	}

	return worker
}

// UseMiddlewares configures the [Worker] multiplexer to use the specified
// [asynq.MiddlewareFunc].
func (w *Worker) UseMiddlewares(middlewares ...asynq.MiddlewareFunc) {
	w.mux.Use(middlewares...)
}

// Handle registers the handler for the given task name.
func (w *Worker) Handle(name string, handler asynq.Handler) {
	w.mux.Handle(name, handler)
}

// HandlersFromRegistry registers the task handlers from the given registry.
func (w *Worker) HandlersFromRegistry(reg *registry.Registry[string, asynq.Handler]) {
	_ = reg.Range(func(name string, handler asynq.Handler) error {
		slog.Info("registering task", "name", name)
		w.Handle(name, handler)

		return nil
	})
}

// Run starts the task processing and blocks until an os signal to exit the
// program is received.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

// Shutdown gracefully shuts down the server.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

// Mux returns the multiplexer of the [Worker].
func (w *Worker) Mux() *asynq.ServeMux {
	return w.mux
}
