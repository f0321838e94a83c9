package trial

import (
	"sync"
	"time"

	"GazeTrialRunner/internal/clock"
)

// TimedInput 在固定时长后产生结束输入的输入源，演示运行用
type TimedInput struct {
	clock  clock.Clock
	after  time.Duration
	button int

	mu      sync.Mutex
	engaged bool
	armedAt time.Time
}

// NewTimedInput 创建定时输入源
func NewTimedInput(clk clock.Clock, after time.Duration, button int) *TimedInput {
	return &TimedInput{clock: clk, after: after, button: button}
}

// Engage 开启捕获并重置计时
func (t *TimedInput) Engage() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.engaged = true
	t.armedAt = t.clock.Now()
	return nil
}

// Arm 重置计时，每个试次呈现后调用
func (t *TimedInput) Arm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armedAt = t.clock.Now()
}

// Poll 检查是否超过设定时长
func (t *TimedInput) Poll() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.engaged {
		return false, 0
	}
	if t.clock.Now().Sub(t.armedAt) >= t.after {
		return true, t.button
	}
	return false, 0
}

// Release 恢复捕获状态，可重复调用
func (t *TimedInput) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.engaged = false
	return nil
}
