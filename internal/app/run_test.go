package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/dig"

	"marketplace-dispatch/internal/logx"
	testlog "marketplace-dispatch/internal/testutil"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
	ttl   time.Duration
	err   error
}

func (f *fakeSweeper) ExpireOffers(_ context.Context, ttl time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ttl = ttl
	return 1, f.err
}

func (f *fakeSweeper) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func hasMsg(entries []testlog.Entry, msg string) bool {
	for _, e := range entries {
		if e.Msg == msg {
			return true
		}
	}
	return false
}

func TestRunOfferSweeper_ExpiresUntilCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := &fakeSweeper{}
	rec := testlog.New()
	done := make(chan struct{})
	go func() {
		runOfferSweeper(ctx, rec.Logger(), sw, 30*time.Second, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return sw.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.Equal(t, 30*time.Second, sw.ttl)
	require.True(t, hasMsg(rec.Entries(), "expired offer rounds"))
}

func TestRunOfferSweeper_LogsErrorsAndKeepsGoing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := &fakeSweeper{err: errors.New("redis down")}
	rec := testlog.New()
	go runOfferSweeper(ctx, rec.Logger(), sw, time.Minute, 5*time.Millisecond)

	require.Eventually(t, func() bool { return sw.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.True(t, hasMsg(rec.Entries(), "offer sweep failed"))
}

func TestGracefulShutdown_DoesNotPanic(t *testing.T) {
	t.Parallel()

	srv := &http.Server{
		Addr:    "127.0.0.1:0",
		Handler: http.NewServeMux(),
	}

	require.NotPanics(t, func() {
		gracefulShutdown(srv, logx.Nop(), 100*time.Millisecond)
	})
}

func TestRunner_MustRun_ShutdownRequested(t *testing.T) {
	t.Parallel()

	rec := testlog.New()
	container := dig.New()
	require.NoError(t, container.Provide(func() logx.Logger {
		return rec.Logger()
	}))

	r := &Runner{runFn: func(*dig.Container) error { return context.Canceled }}
	r.MustRun(container)
	require.True(t, hasMsg(rec.Entries(), "shutdown requested, exiting"))
}

func TestRunner_MustRun_StartupTimeout(t *testing.T) {
	t.Parallel()

	rec := testlog.New()
	container := dig.New()
	require.NoError(t, container.Provide(func() logx.Logger {
		return rec.Logger()
	}))

	r := &Runner{runFn: func(*dig.Container) error { return context.DeadlineExceeded }}
	r.MustRun(container)
	require.True(t, hasMsg(rec.Entries(), "startup aborted: startup timeout exceeded"))
}

func TestRunner_MustRun_ExitsOnOtherError(t *testing.T) {
	t.Parallel()

	code := -1
	r := &Runner{
		runFn: func(*dig.Container) error { return errors.New("boom") },
		exit:  func(c int) { code = c },
	}
	r.MustRun(dig.New())
	require.Equal(t, 1, code)
}

func TestNewRunner_DefaultFields(t *testing.T) {
	t.Parallel()

	r := NewRunner()
	require.NotNil(t, r)
	require.NotNil(t, r.exit)
	require.Equal(t, fmt.Sprintf("%p", run), fmt.Sprintf("%p", r.runFn))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.Dispatch.OfferTTL = time.Minute
	cfg.Dispatch.SweepInterval = 5 * time.Millisecond

	sw := &fakeSweeper{}
	container := setupTestContainer(t, cfg)
	require.NoError(t, container.Decorate(func(context.Context) context.Context { return ctx }))
	require.NoError(t, container.Decorate(func(offerExpirer) offerExpirer { return sw }))
	require.NoError(t, container.Decorate(func(srv *http.Server) *http.Server {
		srv.Addr = "127.0.0.1:0"
		return srv
	}))

	go func() {
		deadline := time.Now().Add(time.Second)
		for sw.Calls() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	err := run(container)
	require.ErrorIs(t, err, context.Canceled)
	require.Positive(t, sw.Calls())
}

func TestUntilCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("boom")

	require.ErrorIs(t, untilCanceled(ctx, boom), boom)
	require.ErrorIs(t, untilCanceled(ctx, context.Canceled), context.Canceled)

	cancel()
	require.NoError(t, untilCanceled(ctx, context.Canceled))
	require.NoError(t, untilCanceled(ctx, nil))
}
