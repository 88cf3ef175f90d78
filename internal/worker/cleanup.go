package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jinwoo-ahn/wallet-auth-nonce/pkg/nonce"
)

// CleanupWorker periodically removes expired nonce records. The sweep is an
// optimization: lazy expiry in the service keeps validation correct even
// when the worker falls behind or never runs.
type CleanupWorker struct {
	service  *nonce.Service
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewCleanupWorker creates a cleanup worker with the given run interval and
// per-run timeout.
func NewCleanupWorker(service *nonce.Service, interval, timeout time.Duration, logger *zap.Logger) *CleanupWorker {
	return &CleanupWorker{
		service:  service,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (w *CleanupWorker) Start() {
	go w.run()
}

// Stop signals the loop to exit and waits for the in-flight sweep.
func (w *CleanupWorker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *CleanupWorker) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runOnce()
		case <-w.stop:
			return
		}
	}
}

func (w *CleanupWorker) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	removed, err := w.service.CleanupExpired(ctx)
	if err != nil {
		w.logger.Warn("nonce cleanup run failed", zap.Error(err))
		return
	}
	if removed > 0 {
		w.logger.Debug("nonce cleanup run finished",
			zap.Int64("removed", removed),
		)
	}
}
