package engine

import "time"

// リトライの待ち時間と打ち切り判断。状態を持たない純関数。
// 実際に待つこととretryCountの加算は呼び出し側（SyncExecutor）の責務。
type BackoffPolicy struct {
	Base        time.Duration // 初回の待ち時間
	Cap         time.Duration // 待ち時間の上限
	MaxAttempts int           // この回数失敗したら打ち切り
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:        1 * time.Second,
		Cap:         16 * time.Second,
		MaxAttempts: 4,
	}
}

// min(Base * 2^retryCount, Cap)
func (p BackoffPolicy) NextDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	// シフトのオーバーフロー前にCapで打ち切る
	d := p.Base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}

	if d > p.Cap {
		return p.Cap
	}
	return d
}

func (p BackoffPolicy) ShouldGiveUp(retryCount int) bool {
	return retryCount >= p.MaxAttempts
}
