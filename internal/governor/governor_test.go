package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	g := New(Config{MaxConcurrent: 2})
	ctx := context.Background()

	release1, err := g.Acquire(ctx)
	require.NoError(t, err)
	release2, err := g.Acquire(ctx)
	require.NoError(t, err)

	// Both slots held; a third acquire must block until one releases.
	acquired := make(chan struct{})
	go func() {
		release3, err := g.Acquire(ctx)
		if err == nil {
			release3()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should block while slots are full")
	case <-time.After(50 * time.Millisecond):
	}

	release1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire should proceed after release")
	}
	release2()
}

func TestAcquireCancelled(t *testing.T) {
	g := New(Config{MaxConcurrent: 1})
	ctx := context.Background()

	release, err := g.Acquire(ctx)
	require.NoError(t, err)
	defer release()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Acquire(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestDelayPacing(t *testing.T) {
	delay := 30 * time.Millisecond
	g := New(Config{MaxConcurrent: 5, RequestDelay: delay})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		release, err := g.Acquire(ctx)
		require.NoError(t, err)
		release()
	}
	// First acquire is immediate; the next two wait out the delay.
	assert.GreaterOrEqual(t, time.Since(start), 2*delay-5*time.Millisecond)
}

func TestDefaults(t *testing.T) {
	g := New(Config{})
	assert.Equal(t, 3, g.MaxConcurrent())
}

func TestAllowed(t *testing.T) {
	g := New(Config{ExcludePaths: []string{"/admin", "logout"}})

	assert.True(t, g.Allowed("/index.html"))
	assert.False(t, g.Allowed("/admin/users"))
	assert.False(t, g.Allowed("https://example.com/session/logout"))

	open := New(Config{})
	assert.True(t, open.Allowed("/anything"))
}
