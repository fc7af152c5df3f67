package engine

import (
	"context"
	"sync"

	"cartsync/internal/gateway"
	repo "cartsync/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// セッションごとのCartControllerを遅延生成して持つ。
// コントローラはセッション内で共有され、明細キー単位で独立に動く。
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*CartController
	creating    singleflight.Group

	gw      gateway.CartGateway
	pending repo.PendingEditRepository
	stock   StockProvider
	policy  BackoffPolicy
	sched   Scheduler
	clock   Clock
	log     zerolog.Logger
}

func NewRegistry(
	gw gateway.CartGateway,
	pending repo.PendingEditRepository,
	stock StockProvider,
	policy BackoffPolicy,
	sched Scheduler,
	clock Clock,
	log zerolog.Logger,
) *Registry {
	return &Registry{
		controllers: map[string]*CartController{},
		gw:          gw,
		pending:     pending,
		stock:       stock,
		policy:      policy,
		sched:       sched,
		clock:       clock,
		log:         log,
	}
}

// セッションのコントローラを返す。初回はStartで復旧まで済ませる。
// 同一セッションの初回リクエストが並走すると、負けた側のStartが復旧コミットを
// 二重に飛ばしてしまうため、生成経路はsingleflightで必ず1本に束ねる。
func (r *Registry) GetOrCreate(ctx context.Context, sessionID string) (*CartController, error) {
	r.mu.Lock()
	if c, ok := r.controllers[sessionID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	v, err, _ := r.creating.Do(sessionID, func() (any, error) {
		r.mu.Lock()
		if c, ok := r.controllers[sessionID]; ok {
			r.mu.Unlock()
			return c, nil
		}
		r.mu.Unlock()

		// Startはネットワークを触るのでレジストリのロック外で行う
		c := NewCartController(
			sessionID,
			r.gw,
			r.pending,
			r.stock,
			r.policy,
			r.sched,
			r.clock,
			r.log.With().Str("session_id", sessionID).Logger(),
		)
		if err := c.Start(ctx); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.controllers[sessionID] = c
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CartController), nil
}
