// Package service provides functionality common to services, like graceful shutdown
// of everything a service runs (http servers, subscriptions, publishers) and build info metrics.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/birdie-ai/httptrace/slog"
	"github.com/sourcegraph/conc/pool"
)

type (
	// Shutdowner represents a service that can shutdown.
	Shutdowner interface {
		Shutdown(context.Context) error
	}

	// ShutdownFunc adapts a function to a [Shutdowner].
	ShutdownFunc func(context.Context) error

	// ShutdownHandler handles the shutdown of multiple services.
	// It waits for a context to be cancelled to then call each service's Shutdown method.
	ShutdownHandler struct {
		waitPeriod time.Duration
		services   []namedService
	}

	namedService struct {
		name string
		Shutdowner
	}
)

// Shutdown calls f(ctx).
func (f ShutdownFunc) Shutdown(ctx context.Context) error {
	return f(ctx)
}

// NewShutdownHandler creates a new [ShutdownHandler] with the given [gracefulShutdownPeriod].
func NewShutdownHandler(gracefulShutdownPeriod time.Duration) *ShutdownHandler {
	return &ShutdownHandler{waitPeriod: gracefulShutdownPeriod}
}

// Add will add the given service to the handler, the name is used for logging.
// Must be called before [ShutdownHandler.Wait] is called.
func (s *ShutdownHandler) Add(name string, service Shutdowner) {
	s.services = append(s.services, namedService{name: name, Shutdowner: service})
}

// Wait will wait for the given [ctx] to be cancelled.
// When [ctx] is cancelled it will shut down all services
// concurrently and wait for all of them to finish before returning.
// It will wait for each service to shut down for the wait period provided on
// NewShutdownHandler. Errors of all services are joined.
func (s *ShutdownHandler) Wait(ctx context.Context) error {
	<-ctx.Done()

	log := slog.FromCtx(ctx)
	log.Info("service: shutting down", "services", len(s.services), "wait_period", s.waitPeriod.String())

	p := pool.NewWithResults[error]()

	for _, service := range s.services {
		p.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), s.waitPeriod)
			defer cancel()

			start := time.Now()
			if err := service.Shutdown(ctx); err != nil {
				log.Error("service: shutdown failed", "service", service.name, "error", err,
					"duration", time.Since(start).String())
				return err
			}
			log.Debug("service: shutdown done", "service", service.name, "duration", time.Since(start).String())
			return nil
		})
	}

	return errors.Join(p.Wait()...)
}
