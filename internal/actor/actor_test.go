package actor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	n int
}

func TestActivateAndCall(t *testing.T) {
	h := NewHost[*counter](8)
	defer h.Close()

	_, err := h.Activate("a", &counter{})
	require.NoError(t, err)

	ref, ok := h.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a", ref.Key())

	n, err := Call(context.Background(), ref, func(c *counter) (int, error) {
		c.n++
		return c.n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestActivateDuplicate(t *testing.T) {
	h := NewHost[*counter](8)
	defer h.Close()

	_, err := h.Activate("a", &counter{})
	require.NoError(t, err)
	_, err = h.Activate("a", &counter{})
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, 1, h.Len())
}

func TestCallsAreSerialized(t *testing.T) {
	h := NewHost[*counter](64)
	defer h.Close()

	_, err := h.Activate("a", &counter{})
	require.NoError(t, err)
	ref, _ := h.Lookup("a")

	// Racy increments through the mailbox must not lose updates.
	const workers = 50
	const perWorker = 20
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				_, err := Call(context.Background(), ref, func(c *counter) (struct{}, error) {
					c.n++
					return struct{}{}, nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	n, err := Call(context.Background(), ref, func(c *counter) (int, error) {
		return c.n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, n)
}

func TestCallContextCancelled(t *testing.T) {
	h := NewHost[*counter](1)
	defer h.Close()

	_, err := h.Activate("a", &counter{})
	require.NoError(t, err)
	ref, _ := h.Lookup("a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Call(ctx, ref, func(c *counter) (int, error) {
		return c.n, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose(t *testing.T) {
	h := NewHost[*counter](8)
	_, err := h.Activate("a", &counter{})
	require.NoError(t, err)
	ref, _ := h.Lookup("a")

	h.Close()
	h.Close() // idempotent

	_, err = Call(context.Background(), ref, func(c *counter) (int, error) {
		return c.n, nil
	})
	assert.ErrorIs(t, err, ErrHostClosed)

	_, err = h.Activate("b", &counter{})
	assert.ErrorIs(t, err, ErrHostClosed)
}
