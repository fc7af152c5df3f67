package validator

// 在庫上限チェックの結果。
// Rejectedはエラーではなく通常のUIシグナル（在庫上限ダイアログ表示）で、
// リトライ機構には決して流さない。
type StockResult struct {
	Allowed        bool
	AvailableStock int64 // Rejectedのとき画面に出す上限値
}

// 候補数量を在庫上限に対して検証する。純関数。
// 0 <= candidate <= availableStock のとき許可。
// 負の候補は呼び出し側が先に弾く想定（1未満への減算はremove経路に回る）。
func ValidateQuantity(candidate int64, availableStock int64) StockResult {
	if candidate >= 0 && candidate <= availableStock {
		return StockResult{Allowed: true, AvailableStock: availableStock}
	}
	return StockResult{Allowed: false, AvailableStock: availableStock}
}
