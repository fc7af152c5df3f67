package model

// リモートカートサービスが返す全量スナップショット。
// このサブシステムが読むのは product_id と quantity だけ。
// stock はカタログ側メタデータの一部で、付いていれば在庫上限の更新に使う。
type CartSnapshot struct {
	Items []CartSnapshotItem `json:"items"`
}

type CartSnapshotItem struct {
	ProductID int64  `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Stock     *int64 `json:"stock,omitempty"`
}

// productID の確定数量を返す。明細が無ければ0（=削除済み）。
func (s CartSnapshot) QuantityOf(productID int64) int64 {
	for _, it := range s.Items {
		if it.ProductID == productID {
			return it.Quantity
		}
	}
	return 0
}
