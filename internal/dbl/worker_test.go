package dbl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kouritron/l6sk/internal/logging"
)

func TestWorkerHealthCheckCompletesQuickly(t *testing.T) {
	bank := NewDispatchBank(0)
	log := logging.New("worker_test", nil, "CRITICAL")
	w := NewWorker(bank, NewMemDAOFactory(testKDF(t), testUUIDs(t)), log, 10, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	req := NewRequest(OpHealthCheck1, PriorityNormal, nil)
	require.NoError(t, bank.Submit(req))

	select {
	case <-req.Done():
	case <-time.After(50 * time.Millisecond):
		t.Fatal("health check did not complete within 50ms")
	}

	succ, fail, ok := req.Result()
	require.True(t, ok)
	require.Nil(t, fail)
	require.Equal(t, "DBL health check: OK", succ)
}

// failingDAO always errors from Serve without touching req, exercising the
// worker loop's "never exits, never leaves a request hanging" guarantee.
type failingDAO struct{}

func (failingDAO) Serve(req *Request) error { return fmt.Errorf("synthetic failure") }
func (failingDAO) Close() error             { return nil }

func TestWorkerSurvivesUnboundedDAOErrors(t *testing.T) {
	bank := NewDispatchBank(0)
	log := logging.New("worker_test", nil, "CRITICAL")
	factory := func() (DAO, error) { return failingDAO{}, nil }
	w := NewWorker(bank, factory, log, 10, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	const n = 200
	reqs := make([]*Request, n)
	for i := 0; i < n; i++ {
		reqs[i] = NewRequest(OpHealthCheck1, PriorityNormal, nil)
		require.NoError(t, bank.Submit(reqs[i]))
	}

	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-reqs[i].Done():
		case <-deadline:
			t.Fatalf("request %d never completed; worker loop likely exited", i)
		}
		_, fail, ok := reqs[i].Result()
		require.True(t, ok)
		require.NotNil(t, fail)
		require.Equal(t, 500, fail.HTTPCode)
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	bank := NewDispatchBank(0)
	log := logging.New("worker_test", nil, "CRITICAL")
	w := NewWorker(bank, NewMemDAOFactory(testKDF(t), testUUIDs(t)), log, 10, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}
