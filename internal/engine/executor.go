package engine

import (
	"context"
	"sync"
	"time"

	"cartsync/internal/domain/model"
	"cartsync/internal/gateway"
	repo "cartsync/internal/repository"

	"github.com/rs/zerolog"
)

// ゲートウェイ1呼び出しの上限。超過はtransient failure。
const commitTimeout = 15 * time.Second

// コミット結果の通知先（CartControllerが実装する）。
// transient failureはここまで上がってこない。上がるのは確定と恒久失敗だけ。
type ExecutorListener interface {
	OnCommitConfirmed(productID int64, snap model.CartSnapshot)
	OnCommitFailed(productID int64)
}

// 商品ごとの送信中・予約・リトライの帳簿。
// クロージャに閉じ込めず、キーで引ける明示的な状態として持つ。
type productSyncEntry struct {
	inFlight     bool
	hasNext      bool  // 送信中に新しい目標値が来た
	nextQuantity int64 // 送信中の呼び出しが解決したら即座にこれを送る
	retryCount   int
	retryTimer   Timer
}

// 商品ごとのコミットを直列化するエグゼキュータ。
// 不変条件: ある商品について同時に外に出ているネットワーク呼び出しは常に1以下。
type SyncExecutor struct {
	mu      sync.Mutex
	entries map[int64]*productSyncEntry

	sessionID string
	gw        gateway.CartGateway
	pending   repo.PendingEditRepository
	policy    BackoffPolicy
	sched     Scheduler
	clock     Clock
	listener  ExecutorListener
	log       zerolog.Logger
}

func NewSyncExecutor(
	sessionID string,
	gw gateway.CartGateway,
	pending repo.PendingEditRepository,
	policy BackoffPolicy,
	sched Scheduler,
	clock Clock,
	listener ExecutorListener,
	log zerolog.Logger,
) *SyncExecutor {
	return &SyncExecutor{
		entries:   map[int64]*productSyncEntry{},
		sessionID: sessionID,
		gw:        gw,
		pending:   pending,
		policy:    policy,
		sched:     sched,
		clock:     clock,
		listener:  listener,
		log:       log,
	}
}

// ロック保持中のみ呼ぶ
func (s *SyncExecutor) entry(productID int64) *productSyncEntry {
	e, ok := s.entries[productID]
	if !ok {
		e = &productSyncEntry{}
		s.entries[productID] = e
	}
	return e
}

// 目標数量のコミットを開始する。quantity==0 は明細削除。
// 送信中なら2本目は出さず、next枠を上書きするだけで即座に戻る。
func (s *SyncExecutor) Commit(productID int64, quantity int64) {
	s.mu.Lock()
	e := s.entry(productID)

	// 新しい目標値は予約済みリトライを置き換える
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.retryCount = 0

	if e.inFlight {
		e.hasNext = true
		e.nextQuantity = quantity
		s.mu.Unlock()
		return
	}

	e.inFlight = true
	s.mu.Unlock()

	go s.perform(productID, quantity)
}

// テスト用: 送信中か
func (s *SyncExecutor) InFlight(productID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[productID]
	return ok && e.inFlight
}

func (s *SyncExecutor) perform(productID int64, quantity int64) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	var snap model.CartSnapshot
	var err error

	if quantity == 0 {
		snap, err = s.gw.RemoveItem(ctx, productID)
	} else {
		snap, err = s.gw.SetQuantity(ctx, productID, quantity)
	}

	s.finish(productID, quantity, snap, err)
}

func (s *SyncExecutor) finish(productID int64, quantity int64, snap model.CartSnapshot, err error) {
	s.mu.Lock()
	e := s.entry(productID)
	e.inFlight = false

	if err == nil {
		e.retryCount = 0
		hadNext := e.hasNext
		next := e.nextQuantity
		e.hasNext = false
		if hadNext {
			e.inFlight = true
		}
		s.mu.Unlock()

		if !hadNext {
			// 確定した数量のレコードだけ破棄する。
			// nextが控えている場合やデバウンス中の新しい編集が同じキーへ
			// 永続化済みの場合、ストアのレコードは次の目標値のものなので残す。
			s.dropConfirmedEdit(productID, quantity)
		}

		s.listener.OnCommitConfirmed(productID, snap)

		if hadNext {
			go s.perform(productID, next)
		}
		return
	}

	// 失敗。malformed responseもtransient failureと同じ扱い。
	if e.hasNext {
		// 新しい目標値が控えているなら、この失敗はリトライせず即座に差し替える
		next := e.nextQuantity
		e.hasNext = false
		e.retryCount = 0
		e.inFlight = true
		s.mu.Unlock()

		s.log.Debug().Err(err).Int64("product_id", productID).Int64("next", next).Msg("commit failed, superseded by newer quantity")
		go s.perform(productID, next)
		return
	}

	delay := s.policy.NextDelay(e.retryCount)
	e.retryCount++
	rc := e.retryCount

	if s.policy.ShouldGiveUp(rc) {
		e.retryCount = 0
		s.mu.Unlock()

		s.log.Warn().Err(err).Int64("product_id", productID).Int("attempts", rc).Msg("commit abandoned after retry exhaustion")

		// ロールバックはController側。PendingEditはここで破棄し、自動では再試行しない
		if derr := s.pending.Delete(context.Background(), s.sessionID, productID); derr != nil {
			s.log.Warn().Err(derr).Int64("product_id", productID).Msg("failed to delete pending edit after give-up")
		}
		s.listener.OnCommitFailed(productID)
		return
	}

	e.retryTimer = s.sched.AfterFunc(delay, func() {
		s.retry(productID, quantity)
	})
	s.mu.Unlock()

	s.log.Debug().Err(err).Int64("product_id", productID).Int("retry_count", rc).Dur("delay", delay).Msg("commit failed, retry scheduled")
	s.persistRetryCount(productID, quantity, rc)
}

func (s *SyncExecutor) retry(productID int64, quantity int64) {
	s.mu.Lock()
	e := s.entry(productID)
	e.retryTimer = nil

	if e.inFlight {
		s.mu.Unlock()
		return
	}

	e.inFlight = true
	s.mu.Unlock()

	go s.perform(productID, quantity)
}

// 確定した数量と一致するPendingEditだけを消す。
// Committing中にstageEditが新しい目標値を書き込んでいたら、それは次のコミットの
// 復旧レコードなので触らない。
func (s *SyncExecutor) dropConfirmedEdit(productID int64, quantity int64) {
	ctx := context.Background()

	cur, err := s.pending.Get(ctx, s.sessionID, productID)
	if err == repo.ErrNotFound {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Int64("product_id", productID).Msg("failed to read pending edit")
		return
	}
	if cur.Quantity != quantity {
		return
	}

	if derr := s.pending.Delete(ctx, s.sessionID, productID); derr != nil {
		s.log.Warn().Err(derr).Int64("product_id", productID).Msg("failed to delete pending edit after confirm")
	}
}

// リロード復旧と診断のためにretryCountをストアへ反映する。
// 既により新しい目標値が永続化されていたら上書きしない。
func (s *SyncExecutor) persistRetryCount(productID int64, quantity int64, retryCount int) {
	ctx := context.Background()

	cur, err := s.pending.Get(ctx, s.sessionID, productID)
	if err == repo.ErrNotFound {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Int64("product_id", productID).Msg("failed to read pending edit")
		return
	}
	if cur.Quantity != quantity {
		return
	}

	cur.RetryCount = retryCount
	cur.AttemptedAt = s.clock.Now()
	if err := s.pending.Put(ctx, cur); err != nil {
		s.log.Warn().Err(err).Int64("product_id", productID).Msg("failed to persist retry count")
	}
}
