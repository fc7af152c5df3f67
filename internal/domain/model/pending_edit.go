package model

import "time"

// 未確定の数量編集。(session_id, product_id) ごとに最大1件。
// 新しい編集は追記ではなく上書きするので、リトライは常に最新の目標値を送る。
// Quantity==0 は「明細削除」の意味。
type PendingEdit struct {
	SessionID   string    `gorm:"primaryKey;type:varchar(64)" json:"session_id"`
	ProductID   int64     `gorm:"primaryKey" json:"product_id"`
	Quantity    int64     `gorm:"not null" json:"quantity"`
	AttemptedAt time.Time `gorm:"not null" json:"attempted_at"` // 診断用。ロジックでは使わない
	RetryCount  int       `gorm:"not null;default:0" json:"retry_count"`
}
