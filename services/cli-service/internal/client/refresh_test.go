package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "WorkshopPlatform/pkg/errors"
)

type recordingListener struct {
	mu        sync.Mutex
	refreshed []RefreshResult
	expired   []error
	offline   []bool
}

func (l *recordingListener) SessionRefreshed(res RefreshResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshed = append(l.refreshed, res)
}

func (l *recordingListener) SessionExpired(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expired = append(l.expired, err)
}

func (l *recordingListener) OfflineChanged(offline bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = append(l.offline, offline)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCoordinator(fn RefreshFunc) (*RefreshCoordinator, *recordingListener, *fakeClock) {
	listener := &recordingListener{}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	c := NewRefreshCoordinator(fn, listener, 5*time.Second)
	c.nowFn = clock.Now
	return c, listener, clock
}

func TestRefreshCoordinator_ConcurrentCallersShareOneRefresh(t *testing.T) {
	expires := time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC)
	release := make(chan struct{})
	var calls atomic.Int32

	c, listener, _ := newTestCoordinator(func(ctx context.Context) (RefreshResult, error) {
		calls.Add(1)
		<-release
		return RefreshResult{ExpiresAt: expires}, nil
	})

	const n = 20
	results := make([]RefreshResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(context.Background())
		}(i)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), c.Calls())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.True(t, expires.Equal(results[i].ExpiresAt))
	}
	assert.Len(t, listener.refreshed, 1)
}

func TestRefreshCoordinator_Throttle(t *testing.T) {
	var calls atomic.Int32
	c, _, clock := newTestCoordinator(func(ctx context.Context) (RefreshResult, error) {
		n := calls.Add(1)
		return RefreshResult{Rotated: n > 1}, nil
	})

	first, err := c.Refresh(context.Background())
	require.NoError(t, err)

	clock.Advance(4 * time.Second)
	second, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(time.Second)
	third, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, third.Rotated)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefreshCoordinator_ThrottleRepeatsLastFailure(t *testing.T) {
	var calls atomic.Int32
	c, _, _ := newTestCoordinator(func(ctx context.Context) (RefreshResult, error) {
		calls.Add(1)
		return RefreshResult{}, pkgerrors.New(pkgerrors.ErrTransientStore, "store down")
	})

	_, err1 := c.Refresh(context.Background())
	_, err2 := c.Refresh(context.Background())

	assert.True(t, pkgerrors.IsCode(err1, pkgerrors.ErrTransientStore))
	assert.Equal(t, err1, err2)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, c.Offline())
	assert.False(t, c.Terminated())
}

func TestRefreshCoordinator_NetworkErrorGoesOffline(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	c, listener, clock := newTestCoordinator(func(ctx context.Context) (RefreshResult, error) {
		if fail.Load() {
			return RefreshResult{}, &unreachableError{cause: context.DeadlineExceeded}
		}
		return RefreshResult{}, nil
	})

	_, err := c.Refresh(context.Background())
	assert.True(t, IsUnreachable(err))
	assert.True(t, c.Offline())
	assert.False(t, c.Terminated())
	assert.Empty(t, listener.expired)
	assert.Equal(t, []bool{true}, listener.offline)

	fail.Store(false)
	clock.Advance(6 * time.Second)
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, c.Offline())
	assert.Equal(t, []bool{true, false}, listener.offline)
}

func TestRefreshCoordinator_RejectedTerminates(t *testing.T) {
	for _, code := range []pkgerrors.ErrorCode{
		pkgerrors.ErrSessionExpired,
		pkgerrors.ErrInvalidSession,
		pkgerrors.ErrAccountLocked,
	} {
		t.Run(string(code), func(t *testing.T) {
			var calls atomic.Int32
			c, listener, clock := newTestCoordinator(func(ctx context.Context) (RefreshResult, error) {
				calls.Add(1)
				return RefreshResult{}, pkgerrors.New(code, "rejected")
			})

			_, err := c.Refresh(context.Background())
			assert.True(t, pkgerrors.IsCode(err, code))
			assert.True(t, c.Terminated())
			assert.Len(t, listener.expired, 1)

			clock.Advance(time.Minute)
			_, err = c.Refresh(context.Background())
			assert.ErrorIs(t, err, ErrSessionTerminated)
			assert.Equal(t, int32(1), calls.Load())

			c.Reset()
			_, _ = c.Refresh(context.Background())
			assert.Equal(t, int32(2), calls.Load())
		})
	}
}

func TestRefreshCoordinator_CallerCancellationDoesNotAbortRefresh(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	c, listener, _ := newTestCoordinator(func(ctx context.Context) (RefreshResult, error) {
		defer close(finished)
		<-release
		return RefreshResult{}, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx)
		errCh <- err
	}()
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	<-finished
	assert.Eventually(t, func() bool {
		listener.mu.Lock()
		defer listener.mu.Unlock()
		return len(listener.refreshed) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRefreshCoordinator_Reachable(t *testing.T) {
	c, listener, _ := newTestCoordinator(nil)

	c.Reachable()
	assert.Empty(t, listener.offline)

	c.setOffline(true)
	c.Reachable()
	assert.False(t, c.Offline())
	assert.Equal(t, []bool{false}, listener.offline)
}
