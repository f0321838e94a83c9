package clock

import (
	"sync"
	"time"
)

// Clock 时钟抽象，协议中的延时与时间戳全部经过它，便于测试注入
type Clock interface {
	// Now 返回当前时间
	Now() time.Time
	// Sleep 阻塞指定时长
	Sleep(d time.Duration)
}

// Real 真实时钟
type Real struct{}

// NewReal 创建真实时钟
func NewReal() *Real {
	return &Real{}
}

// Now 返回当前时间
func (Real) Now() time.Time {
	return time.Now()
}

// Sleep 阻塞指定时长
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Fake 假时钟，Sleep只推进内部时间，用于确定性测试
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake 创建假时钟，起始于给定时间
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now 返回当前假时间
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep 推进假时间，不真正阻塞
func (f *Fake) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Advance 手动推进假时间
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
