package engine_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"cartsync/internal/domain/model"
	"cartsync/internal/engine"
	repo "cartsync/internal/repository"
)

// =====================
// フェイク時計・スケジューラ
// =====================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
	mu      *sync.Mutex
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// AfterFuncを記録し、テストから手動で発火させる
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) engine.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, f: f, mu: &s.mu}
	s.timers = append(s.timers, t)
	return t
}

// 生きているタイマーを全部発火させる。発火した本数を返す。
func (s *fakeScheduler) fireAll() int {
	s.mu.Lock()
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}

// 生きているタイマーの遅延一覧（予約順）
func (s *fakeScheduler) pendingDelays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.delay)
		}
	}
	return out
}

// =====================
// インメモリの未確定編集ストア
// =====================

type memPendingRepo struct {
	mu    sync.Mutex
	edits map[string]map[int64]model.PendingEdit
}

func newMemPendingRepo() *memPendingRepo {
	return &memPendingRepo{edits: map[string]map[int64]model.PendingEdit{}}
}

func (m *memPendingRepo) Put(ctx context.Context, edit model.PendingEdit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edits[edit.SessionID] == nil {
		m.edits[edit.SessionID] = map[int64]model.PendingEdit{}
	}
	m.edits[edit.SessionID][edit.ProductID] = edit
	return nil
}

func (m *memPendingRepo) Get(ctx context.Context, sessionID string, productID int64) (model.PendingEdit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.edits[sessionID][productID]; ok {
		return e, nil
	}
	return model.PendingEdit{}, repo.ErrNotFound
}

func (m *memPendingRepo) Delete(ctx context.Context, sessionID string, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.edits[sessionID], productID)
	return nil
}

func (m *memPendingRepo) ListBySession(ctx context.Context, sessionID string) ([]model.PendingEdit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PendingEdit
	for _, e := range m.edits[sessionID] {
		out = append(out, e)
	}
	return out, nil
}

func (m *memPendingRepo) count(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edits[sessionID])
}

// =====================
// フェイクゲートウェイ
// =====================

var errGatewayDown = errors.New("gateway down")

type gwCall struct {
	op        string // set / remove / read
	productID int64
	quantity  int64
}

type fakeGateway struct {
	mu          sync.Mutex
	calls       []gwCall
	readSnap    model.CartSnapshot
	failures    int   // 変更呼び出しをこの回数失敗させる。-1で常に失敗
	failErr     error // 失敗時に返すエラー（nilならerrGatewayDown）
	inFlight    int
	maxInFlight int
	gate        chan struct{} // non-nilなら変更呼び出しは受信まで待つ
	started     chan struct{} // non-nilなら変更呼び出し開始時に通知
	readGate    chan struct{} // non-nilならReadCartは受信まで待つ
	readErr     error         // non-nilならReadCartは失敗する
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{}
}

func (g *fakeGateway) begin(call gwCall) {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	started := g.started
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
}

func (g *fakeGateway) end() {
	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
}

func (g *fakeGateway) mutationResult(productID int64, quantity int64) (model.CartSnapshot, error) {
	if g.gate != nil {
		<-g.gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failures != 0 {
		if g.failures > 0 {
			g.failures--
		}
		if g.failErr != nil {
			return model.CartSnapshot{}, g.failErr
		}
		return model.CartSnapshot{}, errGatewayDown
	}

	if quantity == 0 {
		return model.CartSnapshot{}, nil
	}
	return model.CartSnapshot{Items: []model.CartSnapshotItem{
		{ProductID: productID, Quantity: quantity},
	}}, nil
}

func (g *fakeGateway) SetQuantity(ctx context.Context, productID int64, quantity int64) (model.CartSnapshot, error) {
	g.begin(gwCall{op: "set", productID: productID, quantity: quantity})
	defer g.end()
	return g.mutationResult(productID, quantity)
}

func (g *fakeGateway) RemoveItem(ctx context.Context, productID int64) (model.CartSnapshot, error) {
	g.begin(gwCall{op: "remove", productID: productID})
	defer g.end()
	return g.mutationResult(productID, 0)
}

func (g *fakeGateway) ReadCart(ctx context.Context) (model.CartSnapshot, error) {
	g.mu.Lock()
	g.calls = append(g.calls, gwCall{op: "read"})
	snap := g.readSnap
	gate := g.readGate
	readErr := g.readErr
	g.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if readErr != nil {
		return model.CartSnapshot{}, readErr
	}
	return snap, nil
}

// 変更呼び出し（set/remove）だけを抜き出す
func (g *fakeGateway) mutationCalls() []gwCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gwCall
	for _, c := range g.calls {
		if c.op != "read" {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakeGateway) readCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.op == "read" {
			n++
		}
	}
	return n
}

func (g *fakeGateway) maxConcurrent() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxInFlight
}

// =====================
// フェイク在庫プロバイダ
// =====================

type fakeStockProvider struct {
	mu    sync.Mutex
	stock map[int64]int64
	err   error
}

func newFakeStockProvider(stock map[int64]int64) *fakeStockProvider {
	return &fakeStockProvider{stock: stock}
}

func (p *fakeStockProvider) AvailableStock(ctx context.Context, productID int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	return p.stock[productID], nil
}

// 呼ばれたことを通知し、releaseまで返らない在庫プロバイダ
type blockingStockProvider struct {
	entered chan struct{}
	release chan struct{}
	stock   int64
}

func newBlockingStockProvider(stock int64) *blockingStockProvider {
	return &blockingStockProvider{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		stock:   stock,
	}
}

func (p *blockingStockProvider) AvailableStock(ctx context.Context, productID int64) (int64, error) {
	p.entered <- struct{}{}
	<-p.release
	return p.stock, nil
}

// =====================
// 結果記録リスナー（executorテスト用）
// =====================

type recordingListener struct {
	mu        sync.Mutex
	confirmed []int64
	failed    []int64
	snaps     []model.CartSnapshot
}

func (l *recordingListener) OnCommitConfirmed(productID int64, snap model.CartSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirmed = append(l.confirmed, productID)
	l.snaps = append(l.snaps, snap)
}

func (l *recordingListener) OnCommitFailed(productID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, productID)
}

func (l *recordingListener) confirmedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.confirmed)
}

func (l *recordingListener) failedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failed)
}
