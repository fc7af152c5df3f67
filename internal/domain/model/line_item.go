package model

// 1明細の同期状態
type SyncState string

const (
	SyncStateIdle       SyncState = "IDLE"       // ローカル==サーバ、未確定の編集なし
	SyncStateDirty      SyncState = "DIRTY"      // ユーザー編集あり、デバウンス待ち
	SyncStateCommitting SyncState = "COMMITTING" // SyncExecutorへ送信済み、結果待ち
	SyncStateError      SyncState = "ERROR"      // リトライ上限到達。ユーザーの明示的なdismissが必要
)

// カート1明細のローカル状態。
// ServerQuantity はゲートウェイが最後に確定した値（正）。
// LocalQuantity は画面に出す値で、同期中はServerQuantityと乖離してよい。
type CartLineItem struct {
	ProductID      int64     `json:"product_id"`
	ServerQuantity int64     `json:"server_quantity"`
	LocalQuantity  int64     `json:"local_quantity"`
	AvailableStock int64     `json:"available_stock"`
	State          SyncState `json:"state"`
}

// 同期中か（画面のインジケータ用）
func (i CartLineItem) IsSyncing() bool {
	return i.State == SyncStateDirty || i.State == SyncStateCommitting
}

// 同期エラーか（sticky表示用）
func (i CartLineItem) HasSyncError() bool {
	return i.State == SyncStateError
}
