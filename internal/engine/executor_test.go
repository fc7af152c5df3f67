package engine_test

import (
	"context"
	"testing"
	"time"

	"cartsync/internal/domain/model"
	"cartsync/internal/engine"
	"cartsync/internal/gateway"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionID = "sess-1"

func newExecutor(gw *fakeGateway, pending *memPendingRepo, sched *fakeScheduler, l engine.ExecutorListener) *engine.SyncExecutor {
	return engine.NewSyncExecutor(
		sessionID,
		gw,
		pending,
		engine.DefaultBackoffPolicy(),
		sched,
		newFakeClock(),
		l,
		zerolog.Nop(),
	)
}

func TestSyncExecutor_SuccessClearsPendingEdit(t *testing.T) {
	gw := newFakeGateway()
	pending := newMemPendingRepo()
	sched := newFakeScheduler()
	listener := &recordingListener{}

	require.NoError(t, pending.Put(context.Background(), model.PendingEdit{
		SessionID: sessionID, ProductID: 10, Quantity: 5,
	}))

	exec := newExecutor(gw, pending, sched, listener)
	exec.Commit(10, 5)

	require.Eventually(t, func() bool {
		return listener.confirmedCount() == 1
	}, time.Second, time.Millisecond)

	calls := gw.mutationCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, gwCall{op: "set", productID: 10, quantity: 5}, calls[0])

	// 確定でPendingEditは消える
	assert.Equal(t, 0, pending.count(sessionID))
	assert.False(t, exec.InFlight(10))
}

func TestSyncExecutor_ZeroQuantityTakesRemovePath(t *testing.T) {
	gw := newFakeGateway()
	listener := &recordingListener{}
	exec := newExecutor(gw, newMemPendingRepo(), newFakeScheduler(), listener)

	exec.Commit(10, 0)

	require.Eventually(t, func() bool {
		return listener.confirmedCount() == 1
	}, time.Second, time.Millisecond)

	calls := gw.mutationCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "remove", calls[0].op)
}

// 送信中の2回目以降はnext枠に積まれ、最後の値だけが次に送られる。
// 中間値(4)のための呼び出しは作られない。
func TestSyncExecutor_SupersedesIntermediateQuantities(t *testing.T) {
	gw := newFakeGateway()
	gw.gate = make(chan struct{})
	gw.started = make(chan struct{}, 10)
	listener := &recordingListener{}
	exec := newExecutor(gw, newMemPendingRepo(), newFakeScheduler(), listener)

	exec.Commit(10, 3)
	<-gw.started // 1本目が出た

	exec.Commit(10, 4)
	exec.Commit(10, 5)

	// まだ1本しか出ていない
	assert.Len(t, gw.mutationCalls(), 1)

	close(gw.gate)

	require.Eventually(t, func() bool {
		return listener.confirmedCount() == 2
	}, time.Second, time.Millisecond)

	calls := gw.mutationCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, int64(3), calls[0].quantity)
	assert.Equal(t, int64(5), calls[1].quantity) // 4は送られない

	assert.LessOrEqual(t, gw.maxConcurrent(), 1)
}

func TestSyncExecutor_RetriesWithExponentialBackoff(t *testing.T) {
	gw := newFakeGateway()
	gw.failures = 2
	pending := newMemPendingRepo()
	sched := newFakeScheduler()
	listener := &recordingListener{}

	require.NoError(t, pending.Put(context.Background(), model.PendingEdit{
		SessionID: sessionID, ProductID: 10, Quantity: 5,
	}))

	exec := newExecutor(gw, pending, sched, listener)
	exec.Commit(10, 5)

	// 1回目失敗 → 1秒後のリトライが予約される
	require.Eventually(t, func() bool {
		return len(sched.pendingDelays()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []time.Duration{1 * time.Second}, sched.pendingDelays())

	// retryCountがストアに反映されている
	require.Eventually(t, func() bool {
		edit, err := pending.Get(context.Background(), sessionID, 10)
		return err == nil && edit.RetryCount == 1
	}, time.Second, time.Millisecond)

	sched.fireAll()

	// 2回目失敗 → 2秒後
	require.Eventually(t, func() bool {
		return len(sched.pendingDelays()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []time.Duration{2 * time.Second}, sched.pendingDelays())

	sched.fireAll()

	// 3回目で成功
	require.Eventually(t, func() bool {
		return listener.confirmedCount() == 1
	}, time.Second, time.Millisecond)

	assert.Len(t, gw.mutationCalls(), 3)
	assert.Equal(t, 0, pending.count(sessionID))
	assert.Equal(t, 0, listener.failedCount())
}

// 4回連続で失敗したらそれ以上リトライせず、恒久失敗として通知する。
func TestSyncExecutor_GivesUpAfterFourFailures(t *testing.T) {
	gw := newFakeGateway()
	gw.failures = -1 // 常に失敗
	pending := newMemPendingRepo()
	sched := newFakeScheduler()
	listener := &recordingListener{}

	require.NoError(t, pending.Put(context.Background(), model.PendingEdit{
		SessionID: sessionID, ProductID: 10, Quantity: 5,
	}))

	exec := newExecutor(gw, pending, sched, listener)
	exec.Commit(10, 5)

	// 失敗1〜3はリトライ予約、4回目で打ち切り
	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool {
			return len(sched.pendingDelays()) == 1
		}, time.Second, time.Millisecond)
		sched.fireAll()
	}

	require.Eventually(t, func() bool {
		return listener.failedCount() == 1
	}, time.Second, time.Millisecond)

	assert.Len(t, gw.mutationCalls(), 4)
	assert.Empty(t, sched.pendingDelays())

	// PendingEditは破棄され、自動では再試行されない
	assert.Equal(t, 0, pending.count(sessionID))
	assert.Equal(t, 0, listener.confirmedCount())
}

// 解釈できない応答はtransient failureと同じ扱いでリトライされる。
func TestSyncExecutor_MalformedResponseIsRetried(t *testing.T) {
	gw := newFakeGateway()
	gw.failures = 1
	gw.failErr = gateway.ErrMalformedResponse
	sched := newFakeScheduler()
	listener := &recordingListener{}

	exec := newExecutor(gw, newMemPendingRepo(), sched, listener)
	exec.Commit(10, 2)

	require.Eventually(t, func() bool {
		return len(sched.pendingDelays()) == 1
	}, time.Second, time.Millisecond)

	sched.fireAll()

	require.Eventually(t, func() bool {
		return listener.confirmedCount() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, listener.failedCount())
}

// 失敗直後に新しい目標値が来ていたら、リトライ待ちせず即座に差し替える。
func TestSyncExecutor_FailureWithQueuedNextDispatchesImmediately(t *testing.T) {
	gw := newFakeGateway()
	gw.gate = make(chan struct{})
	gw.started = make(chan struct{}, 10)
	gw.failures = 1
	sched := newFakeScheduler()
	listener := &recordingListener{}

	exec := newExecutor(gw, newMemPendingRepo(), sched, listener)

	exec.Commit(10, 3)
	<-gw.started
	exec.Commit(10, 7) // 送信中に新しい値

	close(gw.gate)

	require.Eventually(t, func() bool {
		return listener.confirmedCount() == 1
	}, time.Second, time.Millisecond)

	calls := gw.mutationCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, int64(7), calls[1].quantity)
	// リトライタイマーは使われない
	assert.Empty(t, sched.pendingDelays())
}
