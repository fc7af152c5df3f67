package gateway

import (
	"context"
	"errors"

	"cartsync/internal/domain/model"
)

// ゲートウェイ応答が解釈できない（JSON破損・負数量など）。
// リトライ処理上はtransient failureと同じ扱い。
var ErrMalformedResponse = errors.New("malformed cart response")

// リモートカートサービスとの境界。
// エンジンが必要とする3操作だけを約束する。
type CartGateway interface {
	// 数量をupsert。quantity >= 1
	SetQuantity(ctx context.Context, productID int64, quantity int64) (model.CartSnapshot, error)
	// 明細を削除（数量0の表現はサーバ側に無い）
	RemoveItem(ctx context.Context, productID int64) (model.CartSnapshot, error)
	// 全量読み取り。初期ロードとreconcileで使う
	ReadCart(ctx context.Context) (model.CartSnapshot, error)
}
