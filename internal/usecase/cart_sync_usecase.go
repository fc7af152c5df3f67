package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cartsync/internal/domain/model"
	"cartsync/internal/engine"
)

type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// CartSyncUsecase はカート数量同期の業務ロジックです。
// セッションごとのCartControllerをRegistryから引いて操作する。
type CartSyncUsecase struct {
	registry *engine.Registry
}

func NewCartSyncUsecase(registry *engine.Registry) *CartSyncUsecase {
	return &CartSyncUsecase{registry: registry}
}

// 1明細分の画面状態
type LineItemResponse struct {
	ProductID      int64 `json:"product_id"`
	LocalQuantity  int64 `json:"local_quantity"`
	ServerQuantity int64 `json:"server_quantity"`
	AvailableStock int64 `json:"available_stock"`
	Syncing        bool  `json:"syncing"`
	SyncError      bool  `json:"sync_error"`
}

type CartStateResponse struct {
	Items []LineItemResponse `json:"items"`
}

// increase/decrease/removeの応答。
// StockExceededのときはHTTP 409で上限値を返す（在庫上限ダイアログ用）。
type EditResponse struct {
	Item           LineItemResponse `json:"item"`
	StockExceeded  bool             `json:"stock_exceeded,omitempty"`
	AvailableStock int64            `json:"available_stock,omitempty"`
}

func toLineItemResponse(item model.CartLineItem) LineItemResponse {
	return LineItemResponse{
		ProductID:      item.ProductID,
		LocalQuantity:  item.LocalQuantity,
		ServerQuantity: item.ServerQuantity,
		AvailableStock: item.AvailableStock,
		Syncing:        item.IsSyncing(),
		SyncError:      item.HasSyncError(),
	}
}

func (u *CartSyncUsecase) controller(ctx context.Context, sessionID string) (*engine.CartController, error) {
	if sessionID == "" {
		return nil, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	c, err := u.registry.GetOrCreate(ctx, sessionID)
	if err != nil {
		// 初期ロードが落ちたらこの境界では上流エラー
		return nil, NewHTTPError(http.StatusBadGateway, "cart service unavailable")
	}
	return c, nil
}

// カート現在状態の取得
func (u *CartSyncUsecase) GetCart(ctx context.Context, sessionID string) (CartStateResponse, error) {
	c, err := u.controller(ctx, sessionID)
	if err != nil {
		return CartStateResponse{}, err
	}

	items := c.Items()
	out := make([]LineItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toLineItemResponse(item))
	}
	return CartStateResponse{Items: out}, nil
}

func (u *CartSyncUsecase) Increase(ctx context.Context, sessionID string, productID int64) (EditResponse, error) {
	if productID <= 0 {
		return EditResponse{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}

	c, err := u.controller(ctx, sessionID)
	if err != nil {
		return EditResponse{}, err
	}

	res, err := c.Increase(ctx, productID)
	if err != nil {
		return EditResponse{}, mapEngineError(err)
	}

	return EditResponse{
		Item:           toLineItemResponse(res.Item),
		StockExceeded:  res.StockExceeded,
		AvailableStock: res.AvailableStock,
	}, nil
}

func (u *CartSyncUsecase) Decrease(ctx context.Context, sessionID string, productID int64) (EditResponse, error) {
	if productID <= 0 {
		return EditResponse{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}

	c, err := u.controller(ctx, sessionID)
	if err != nil {
		return EditResponse{}, err
	}

	res, err := c.Decrease(ctx, productID)
	if err != nil {
		return EditResponse{}, mapEngineError(err)
	}

	return EditResponse{Item: toLineItemResponse(res.Item)}, nil
}

func (u *CartSyncUsecase) Remove(ctx context.Context, sessionID string, productID int64) (EditResponse, error) {
	if productID <= 0 {
		return EditResponse{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}

	c, err := u.controller(ctx, sessionID)
	if err != nil {
		return EditResponse{}, err
	}

	res, err := c.Remove(ctx, productID)
	if err != nil {
		return EditResponse{}, mapEngineError(err)
	}

	return EditResponse{Item: toLineItemResponse(res.Item)}, nil
}

// stickyエラーの解除
func (u *CartSyncUsecase) DismissError(ctx context.Context, sessionID string, productID int64) error {
	if productID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}

	c, err := u.controller(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := c.DismissError(productID); err != nil {
		return mapEngineError(err)
	}
	return nil
}

// 明示的なリフレッシュ（reconcile）
func (u *CartSyncUsecase) Refresh(ctx context.Context, sessionID string) (CartStateResponse, error) {
	c, err := u.controller(ctx, sessionID)
	if err != nil {
		return CartStateResponse{}, err
	}

	if err := c.Reconcile(ctx); err != nil {
		return CartStateResponse{}, NewHTTPError(http.StatusBadGateway, "cart service unavailable")
	}

	items := c.Items()
	out := make([]LineItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toLineItemResponse(item))
	}
	return CartStateResponse{Items: out}, nil
}

func mapEngineError(err error) error {
	switch {
	case errors.Is(err, engine.ErrUnknownProduct):
		return NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, engine.ErrSyncErrorNotDismissed):
		return NewHTTPError(http.StatusConflict, "sync error not dismissed")
	default:
		return NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
