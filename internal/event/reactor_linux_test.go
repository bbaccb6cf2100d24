//go:build linux

package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newReactor(t *testing.T) *Reactor[*testCtx] {
	t.Helper()
	r, err := New[*testCtx](Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestEpollDispatchesReadablePipe(t *testing.T) {
	r := newReactor(t)
	ctx := newTestCtx()
	rfd, wfd := newPipe(t)

	var got []byte
	pipe := NewHandler(rfd, EventRead, func(ctx *testCtx) {
		ctx.calls["pipe"]++
		buf := make([]byte, 16)
		n, err := unix.Read(rfd, buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	})
	require.NoError(t, r.Register(pipe))
	require.NoError(t, r.Register(NewTimer(time.Hour, record("timer"))))

	_, err := unix.Write(wfd, []byte("ping"))
	require.NoError(t, err)

	err = r.Run(ctx, func(ctx *testCtx) bool { return ctx.calls["pipe"] > 0 })
	require.NoError(t, err)

	assert.Equal(t, []byte("ping"), got)
	assert.Equal(t, 1, ctx.calls["pipe"])
	assert.Zero(t, ctx.calls["timer"])
}

func TestEpollTimersFireNearestFirst(t *testing.T) {
	r := newReactor(t)
	ctx := newTestCtx()

	var lastAnnounce, aFired, bFired time.Time
	r.OnBeforePoll(func(*testCtx) { lastAnnounce = time.Now() })

	a := NewTimer[*testCtx](50*time.Millisecond, nil)
	a.OnEvent = func(ctx *testCtx) {
		ctx.calls["a"]++
		aFired = time.Now()
		require.NoError(t, r.Unregister(a))
	}
	b := NewTimer[*testCtx](100*time.Millisecond, nil)
	b.OnEvent = func(ctx *testCtx) {
		ctx.calls["b"]++
		bFired = time.Now()
		assert.GreaterOrEqual(t, bFired.Sub(lastAnnounce), 100*time.Millisecond)
	}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	start := time.Now()
	err := r.Run(ctx, func(ctx *testCtx) bool { return ctx.calls["b"] > 0 })
	require.NoError(t, err)

	assert.Equal(t, 1, ctx.calls["a"])
	assert.Equal(t, 1, ctx.calls["b"])
	assert.GreaterOrEqual(t, aFired.Sub(start), 50*time.Millisecond)
	assert.True(t, bFired.After(aFired))
}

func TestEpollRegisterBadFDIsFatal(t *testing.T) {
	r := newReactor(t)
	const unopened = 1 << 20

	err := r.Register(NewHandler(unopened, EventRead, func(*testCtx) {}))
	var regErr *PollRegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.ErrorIs(t, err, unix.EBADF)

	assert.ErrorIs(t, r.Run(newTestCtx(), nil), unix.EBADF)
}

func TestInboxRunsPostedWorkOnLoop(t *testing.T) {
	r := newReactor(t)
	ctx := newTestCtx()

	inbox, err := NewInbox[*testCtx]()
	require.NoError(t, err)
	t.Cleanup(func() { _ = inbox.Close() })
	require.NoError(t, r.Register(inbox.Handler()))

	const posts = 10
	var wg sync.WaitGroup
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, inbox.Post(record("posted")))
		}()
	}

	err = r.Run(ctx, func(ctx *testCtx) bool { return ctx.calls["posted"] == posts })
	require.NoError(t, err)
	wg.Wait()

	assert.Equal(t, posts, ctx.calls["posted"])
	assert.Zero(t, inbox.Len())
}

func TestInboxPostAfterClose(t *testing.T) {
	inbox, err := NewInbox[*testCtx]()
	require.NoError(t, err)

	require.NoError(t, inbox.Post(record("x")))
	assert.Equal(t, 1, inbox.Len())

	require.NoError(t, inbox.Close())
	assert.Zero(t, inbox.Len())
	assert.ErrorIs(t, inbox.Post(record("x")), ErrClosed)
	assert.NoError(t, inbox.Close())
}

func TestInboxPostRacesClose(t *testing.T) {
	for round := 0; round < 200; round++ {
		inbox, err := NewInbox[*testCtx]()
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := inbox.Post(record("x")); err != nil {
					assert.ErrorIs(t, err, ErrClosed)
				}
			}
		}()

		require.NoError(t, inbox.Close())
		wg.Wait()

		assert.ErrorIs(t, inbox.Post(record("x")), ErrClosed)
		assert.Zero(t, inbox.Len())
	}
}
