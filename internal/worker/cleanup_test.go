package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jinwoo-ahn/wallet-auth-nonce/pkg/nonce"
)

func TestCleanupWorker_RemovesExpiredRecords(t *testing.T) {
	store := nonce.NewMemoryStore()
	service := nonce.NewService(store, nonce.Config{}, nil, zap.NewNop())

	value, err := service.Generate(context.Background(), nonce.WithTTL(5*time.Millisecond))
	require.NoError(t, err)

	worker := NewCleanupWorker(service, 10*time.Millisecond, time.Second, zap.NewNop())
	worker.Start()

	assert.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), value)
		return err != nil
	}, time.Second, 10*time.Millisecond, "expired record should be swept")

	worker.Stop()
}

func TestCleanupWorker_StopTerminates(t *testing.T) {
	service := nonce.NewService(nonce.NewMemoryStore(), nonce.Config{}, nil, zap.NewNop())
	worker := NewCleanupWorker(service, 5*time.Millisecond, time.Second, zap.NewNop())
	worker.Start()

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
