package hub

import "time"

// Timer 可取消的延迟任务句柄
type Timer interface {
	Stop() bool
}

// Clock 时间源（测试中可替换为手动推进的时钟）
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// RealClock 系统时钟
func RealClock() Clock { return realClock{} }
