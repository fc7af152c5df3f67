package engine

import "time"

// テストで時間を偽装するための抽象。
type Clock interface {
	Now() time.Time
}

// デバウンスとリトライのタイマーを作る抽象。
// 本番は time.AfterFunc、テストでは手動発火のフェイクを渡す。
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	// 発火前に止められたらtrue
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func NewRealClock() Clock {
	return realClock{}
}

type realScheduler struct{}

type realTimer struct {
	t *time.Timer
}

func (t realTimer) Stop() bool {
	return t.t.Stop()
}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func NewRealScheduler() Scheduler {
	return realScheduler{}
}
