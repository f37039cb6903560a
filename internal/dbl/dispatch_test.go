package dbl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextOnEmptyBankReturnsNil(t *testing.T) {
	b := NewDispatchBank(0)
	for i := 0; i < 10; i++ {
		require.Nil(t, b.Next())
	}
}

func TestSubmitThenNextFIFOWithinPriority(t *testing.T) {
	b := NewDispatchBank(0)
	for i := 0; i < 5; i++ {
		req := NewRequest(OpHealthCheck1, PriorityNormal, i)
		require.NoError(t, b.Submit(req))
	}

	var got []int
	for i := 0; i < 5; i++ {
		req := drain(t, b)
		got = append(got, req.Data.(int))
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	b := NewDispatchBank(2)
	require.NoError(t, b.Submit(NewRequest(OpHealthCheck1, PriorityLow, nil)))
	require.NoError(t, b.Submit(NewRequest(OpHealthCheck1, PriorityLow, nil)))
	err := b.Submit(NewRequest(OpHealthCheck1, PriorityLow, nil))
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	b := NewDispatchBank(0)
	b.Close()
	err := b.Submit(NewRequest(OpHealthCheck1, PriorityLow, nil))
	require.ErrorIs(t, err, ErrClosed)
}

func TestNextNeverMutatesPriorityOrOp(t *testing.T) {
	b := NewDispatchBank(0)
	req := NewRequest(OpCreateUser, PriorityHigh, "payload")
	require.NoError(t, b.Submit(req))

	drained := drain(t, b)
	require.Equal(t, OpCreateUser, drained.Op)
	require.Equal(t, PriorityHigh, drained.Priority)
	require.Equal(t, "payload", drained.Data)
}

func TestWeightedFairness(t *testing.T) {
	b := NewDispatchBank(0)
	const n = 10000
	for i := 0; i < n; i++ {
		require.NoError(t, b.Submit(NewRequest(OpHealthCheck1, PriorityHigh, nil)))
		require.NoError(t, b.Submit(NewRequest(OpHealthCheck1, PriorityNormal, nil)))
		require.NoError(t, b.Submit(NewRequest(OpHealthCheck1, PriorityLow, nil)))
	}

	counts := map[Priority]int{}
	const sample = 6000
	for i := 0; i < sample; i++ {
		req := drain(t, b)
		counts[req.Priority]++
	}

	require.InDelta(t, 3000, counts[PriorityHigh], 300)
	require.InDelta(t, 2000, counts[PriorityNormal], 300)
	require.InDelta(t, 1000, counts[PriorityLow], 300)
}

// drain retries Next until it returns a request, tolerating the rare nil
// caused by a benign race between the emptiness check and the pop.
func drain(t *testing.T, b *DispatchBank) *Request {
	t.Helper()
	for i := 0; i < 100; i++ {
		if req := b.Next(); req != nil {
			return req
		}
	}
	t.Fatal("dispatch: Next() returned nil too many times in a row")
	return nil
}
