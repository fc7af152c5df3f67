package repository

import (
	"context"
	"errors"

	"cartsync/internal/domain/model"
)

var ErrNotFound = errors.New("not found")

// 未確定編集の永続化だけを約束。
// プロセス再起動（リロード）を跨いで残るが、セッション単位のスコープ。
// 同一キーへの書き込みはlast-write-wins。
type PendingEditRepository interface {
	// 同一 (session, product) は上書き
	Put(ctx context.Context, edit model.PendingEdit) error
	Get(ctx context.Context, sessionID string, productID int64) (model.PendingEdit, error)
	// 無い場合もエラーにしない（確定とgive-upが競合しても冪等）
	Delete(ctx context.Context, sessionID string, productID int64) error
	ListBySession(ctx context.Context, sessionID string) ([]model.PendingEdit, error)
}
