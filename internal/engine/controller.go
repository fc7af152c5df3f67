package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cartsync/internal/domain/model"
	"cartsync/internal/gateway"
	repo "cartsync/internal/repository"
	"cartsync/internal/validator"

	"github.com/rs/zerolog"
)

// デバウンスの静止期間。
// 元の振る舞いはカートページ300ms・商品カード800msに分かれていたが、
// 1つの共有エンジンに収束させるので定数も1つにする（中間の500ms）。
const DebounceWindow = 500 * time.Millisecond

var (
	ErrUnknownProduct = errors.New("unknown product")
	// ERROR状態の明細はdismissするまで編集を受け付けない
	ErrSyncErrorNotDismissed = errors.New("sync error not dismissed")
)

// カタログから在庫上限を引く（advisory。古くてもよい）
type StockProvider interface {
	AvailableStock(ctx context.Context, productID int64) (int64, error)
}

// increase/decreaseの結果。
// StockExceededはエラーではなく「在庫上限ダイアログを出せ」というUIシグナル。
type EditResult struct {
	Item           model.CartLineItem
	StockExceeded  bool
	AvailableStock int64
}

// 1セッション分のカート明細の状態機械。
// 明細ごとに Idle → Dirty（デバウンス中）→ Committing → Idle / Error を回す。
// LocalQuantityの更新は同期的・即時で、UIを待たせない。
type CartController struct {
	mu    sync.Mutex
	items map[int64]*model.CartLineItem

	sessionID string
	exec      *SyncExecutor
	pending   repo.PendingEditRepository
	gw        gateway.CartGateway
	stock     StockProvider
	clock     Clock
	sched     Scheduler
	debounce  time.Duration
	timers    map[int64]Timer // 商品ごとのデバウンスタイマー
	log       zerolog.Logger
}

func NewCartController(
	sessionID string,
	gw gateway.CartGateway,
	pending repo.PendingEditRepository,
	stock StockProvider,
	policy BackoffPolicy,
	sched Scheduler,
	clock Clock,
	log zerolog.Logger,
) *CartController {
	c := &CartController{
		items:     map[int64]*model.CartLineItem{},
		sessionID: sessionID,
		pending:   pending,
		gw:        gw,
		stock:     stock,
		clock:     clock,
		sched:     sched,
		debounce:  DebounceWindow,
		timers:    map[int64]Timer{},
		log:       log,
	}

	// retryとcommitを同じ対象のメソッドにして前方参照の小細工を無くす
	c.exec = NewSyncExecutor(sessionID, gw, pending, policy, sched, clock, c, log)
	return c
}

// 初期化。サーバの現状を読み、永続化されていた未確定編集を復旧する。
// リロード中に飛んでいた編集を黙って落とさないための経路。
func (c *CartController) Start(ctx context.Context) error {
	snap, err := c.gw.ReadCart(ctx)
	if err != nil {
		return err
	}

	edits, err := c.pending.ListBySession(ctx, c.sessionID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.applySnapshot(snap)

	recovered := make([]int64, 0, len(edits))
	stale := make([]int64, 0, len(edits))
	for _, edit := range edits {
		item := c.ensureItem(edit.ProductID)
		if edit.Quantity == item.ServerQuantity {
			// 確定済みの残骸。放置するとリロードのたびに読み直すことになる
			stale = append(stale, edit.ProductID)
			continue
		}

		// 未確定の目標値をそのまま画面値として採用し、コミットを予約する
		item.LocalQuantity = edit.Quantity
		item.State = model.SyncStateDirty
		recovered = append(recovered, edit.ProductID)
	}
	c.mu.Unlock()

	for _, productID := range stale {
		if err := c.pending.Delete(ctx, c.sessionID, productID); err != nil {
			c.log.Warn().Err(err).Int64("product_id", productID).Msg("failed to delete stale pending edit")
		}
	}

	for _, productID := range recovered {
		c.restartDebounce(productID)
		c.log.Info().Int64("product_id", productID).Msg("recovered pending edit")
	}

	return nil
}

// ロック保持中のみ呼ぶ
func (c *CartController) ensureItem(productID int64) *model.CartLineItem {
	item, ok := c.items[productID]
	if !ok {
		item = &model.CartLineItem{
			ProductID: productID,
			State:     model.SyncStateIdle,
		}
		c.items[productID] = item
	}
	return item
}

// ロック保持中のみ呼ぶ。
// Idleの明細だけサーバ値を採用する。未確定の編集がある明細は目標値を守る。
func (c *CartController) applySnapshot(snap model.CartSnapshot) {
	seen := map[int64]bool{}

	for _, si := range snap.Items {
		seen[si.ProductID] = true
		item := c.ensureItem(si.ProductID)

		item.ServerQuantity = si.Quantity
		if si.Stock != nil {
			item.AvailableStock = *si.Stock
		}
		if item.State == model.SyncStateIdle {
			item.LocalQuantity = si.Quantity
		}
	}

	// スナップショットに無い明細は他所で消えている
	for productID, item := range c.items {
		if seen[productID] {
			continue
		}
		item.ServerQuantity = 0
		if item.State == model.SyncStateIdle {
			item.LocalQuantity = 0
		}
	}
}

// +1。在庫上限を超える場合は状態を変えずStockExceededを返す。
func (c *CartController) Increase(ctx context.Context, productID int64) (EditResult, error) {
	// カタログ参照はHTTPを跨ぐ。ロックを握ったまま待つとこのセッションの
	// 全操作（OnCommitConfirmed含む）が止まるので、必ずロックの外で引く。
	stock, stockErr := c.stock.AvailableStock(ctx, productID)

	c.mu.Lock()
	defer c.mu.Unlock()

	item := c.ensureItem(productID)
	if item.State == model.SyncStateError {
		return EditResult{}, ErrSyncErrorNotDismissed
	}

	if stockErr != nil {
		// カタログが引けないときは手元の値で判断する（advisory）
		c.log.Debug().Err(stockErr).Int64("product_id", productID).Msg("stock lookup failed, using cached value")
		stock = item.AvailableStock
	}

	res := validator.ValidateQuantity(item.LocalQuantity+1, stock)
	if !res.Allowed {
		return EditResult{
			Item:           *item,
			StockExceeded:  true,
			AvailableStock: res.AvailableStock,
		}, nil
	}

	item.LocalQuantity++
	item.AvailableStock = stock
	return c.stageEdit(ctx, item)
}

// -1。1から下げる操作は数量0の編集ではなくremove経路に回す。
func (c *CartController) Decrease(ctx context.Context, productID int64) (EditResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[productID]
	if !ok {
		return EditResult{}, ErrUnknownProduct
	}
	if item.State == model.SyncStateError {
		return EditResult{}, ErrSyncErrorNotDismissed
	}
	if item.LocalQuantity <= 0 {
		return EditResult{Item: *item}, nil
	}

	// 1未満への減算は削除の意味
	item.LocalQuantity--
	return c.stageEdit(ctx, item)
}

// 明示的な削除。デバウンスせず即コミットする。
func (c *CartController) Remove(ctx context.Context, productID int64) (EditResult, error) {
	c.mu.Lock()

	item, ok := c.items[productID]
	if !ok {
		c.mu.Unlock()
		return EditResult{}, ErrUnknownProduct
	}
	if item.State == model.SyncStateError {
		c.mu.Unlock()
		return EditResult{}, ErrSyncErrorNotDismissed
	}

	item.LocalQuantity = 0
	item.State = model.SyncStateCommitting

	if t, ok := c.timers[productID]; ok {
		t.Stop()
		delete(c.timers, productID)
	}

	edit := model.PendingEdit{
		SessionID:   c.sessionID,
		ProductID:   productID,
		Quantity:    0,
		AttemptedAt: c.clock.Now(),
	}
	out := *item
	c.mu.Unlock()

	if err := c.pending.Put(ctx, edit); err != nil {
		c.log.Warn().Err(err).Int64("product_id", productID).Msg("failed to persist pending edit")
	}

	c.exec.Commit(productID, 0)
	return EditResult{Item: out}, nil
}

// ロック保持中のみ呼ぶ。
// 編集をPendingEditとして永続化してからデバウンスを張り直す。
func (c *CartController) stageEdit(ctx context.Context, item *model.CartLineItem) (EditResult, error) {
	item.State = model.SyncStateDirty

	edit := model.PendingEdit{
		SessionID:   c.sessionID,
		ProductID:   item.ProductID,
		Quantity:    item.LocalQuantity,
		AttemptedAt: c.clock.Now(),
	}
	if err := c.pending.Put(ctx, edit); err != nil {
		// 永続化失敗でもUIの即時反映は守る。クラッシュ耐性だけが落ちる
		c.log.Warn().Err(err).Int64("product_id", item.ProductID).Msg("failed to persist pending edit")
	}

	c.restartDebounceLocked(item.ProductID)
	return EditResult{Item: *item, AvailableStock: item.AvailableStock}, nil
}

func (c *CartController) restartDebounce(productID int64) {
	c.mu.Lock()
	c.restartDebounceLocked(productID)
	c.mu.Unlock()
}

// ロック保持中のみ呼ぶ。デバウンスタイマーは編集のたびにリセットする。
func (c *CartController) restartDebounceLocked(productID int64) {
	if t, ok := c.timers[productID]; ok {
		t.Stop()
	}
	c.timers[productID] = c.sched.AfterFunc(c.debounce, func() {
		c.debounceFired(productID)
	})
}

// 静止期間が明けた。CommittingにしてSyncExecutorへ渡す。
func (c *CartController) debounceFired(productID int64) {
	c.mu.Lock()
	delete(c.timers, productID)

	item, ok := c.items[productID]
	if !ok || item.State != model.SyncStateDirty {
		c.mu.Unlock()
		return
	}

	item.State = model.SyncStateCommitting
	qty := item.LocalQuantity
	c.mu.Unlock()

	c.exec.Commit(productID, qty)
}

// ExecutorListener: コミット確定。
func (c *CartController) OnCommitConfirmed(productID int64, snap model.CartSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[productID]
	if !ok {
		return
	}

	confirmed := snap.QuantityOf(productID)
	item.ServerQuantity = confirmed

	if item.State == model.SyncStateCommitting && item.LocalQuantity == confirmed {
		item.State = model.SyncStateIdle
	}
	// local != confirmed なら送信中にnextが積まれている。Committingのまま収束を待つ

	// 変更成功時のreconcile: 返ってきたスナップショットを他のIdle明細にも反映
	c.applySnapshot(snap)
}

// ExecutorListener: リトライ枯渇。
// 画面値を最後に確定したサーバ値へ戻し、sticky なエラー表示にする。
func (c *CartController) OnCommitFailed(productID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[productID]
	if !ok {
		return
	}

	item.LocalQuantity = item.ServerQuantity
	item.State = model.SyncStateError
}

// stickyエラーの明示的な解除。解除するまで編集は受け付けない。
func (c *CartController) DismissError(productID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[productID]
	if !ok {
		return ErrUnknownProduct
	}
	if item.State == model.SyncStateError {
		item.State = model.SyncStateIdle
	}
	return nil
}

// 明示的なreconcile。サーバ全量を読み、未確定の編集が無い明細だけ追従する。
// バックグラウンドのポーリングはしない。mount・コミット成功・明示リフレッシュの3契機のみ。
func (c *CartController) Reconcile(ctx context.Context) error {
	snap, err := c.gw.ReadCart(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.applySnapshot(snap)
	c.mu.Unlock()
	return nil
}

// 画面表示用の現在状態（product_id昇順）
func (c *CartController) Items() []model.CartLineItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.CartLineItem, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (c *CartController) LocalQuantity(productID int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[productID]; ok {
		return item.LocalQuantity
	}
	return 0
}

func (c *CartController) IsSyncing(productID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[productID]; ok {
		return item.IsSyncing()
	}
	return false
}

func (c *CartController) HasSyncError(productID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[productID]; ok {
		return item.HasSyncError()
	}
	return false
}
