package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const defaultShutdownTimeout = 30 * time.Second

// ShutdownFunc releases one resource within ctx's deadline
type ShutdownFunc func(context.Context) error

type shutdownHook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains the HTTP servers, then releases registered
// resources (alert queue, database, cache, tracing) in parallel. Both phases
// share one deadline.
type ShutdownManager struct {
	logger  *Logger
	servers []*http.Server
	timeout time.Duration

	mu    sync.Mutex
	hooks []shutdownHook
}

// NewShutdownManager creates a manager for servers; a zero timeout means 30s
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &ShutdownManager{logger: logger, servers: servers, timeout: timeout}
}

// Register adds a hook run after the servers have stopped
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	sm.hooks = append(sm.hooks, shutdownHook{name: name, fn: fn})
	sm.mu.Unlock()
}

// WaitForSignal blocks until SIGINT, SIGTERM or ctx cancellation, then shuts down
func (sm *ShutdownManager) WaitForSignal(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	if ctx.Err() != nil {
		sm.logger.Info("Context cancelled, shutting down")
	} else {
		sm.logger.Info("Signal received, shutting down")
	}
	return sm.Shutdown()
}

// Shutdown runs both phases once under the configured timeout
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	if err := sm.stopServers(ctx); err != nil {
		return err
	}

	sm.mu.Lock()
	hooks := append([]shutdownHook(nil), sm.hooks...)
	sm.mu.Unlock()

	results := make(chan error, len(hooks))
	for _, h := range hooks {
		go func() {
			results <- sm.runHook(ctx, h)
		}()
	}

	var errs []error
	for range hooks {
		select {
		case err := <-results:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			sm.logger.WithField("timeout", sm.timeout.String()).Warn("Shutdown hooks did not finish in time")
			return fmt.Errorf("shutdown timeout after %s", sm.timeout)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	sm.logger.Info("Shutdown complete")
	return nil
}

func (sm *ShutdownManager) stopServers(ctx context.Context) error {
	for _, srv := range sm.servers {
		if srv == nil {
			continue
		}
		log := sm.logger.WithField("addr", srv.Addr)
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("HTTP server did not stop cleanly")
			return fmt.Errorf("stopping server %s: %w", srv.Addr, err)
		}
		log.Info("HTTP server stopped")
	}
	return nil
}

func (sm *ShutdownManager) runHook(ctx context.Context, h shutdownHook) error {
	log := sm.logger.WithField("hook", h.name)
	if err := h.fn(ctx); err != nil {
		log.WithError(err).Error("Shutdown hook failed")
		return fmt.Errorf("%s: %w", h.name, err)
	}
	log.Debug("Shutdown hook done")
	return nil
}
