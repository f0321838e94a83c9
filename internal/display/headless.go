package display

import (
	"errors"
	"sync"
	"time"

	"GazeTrialRunner/internal/clock"
)

// DrawOp 无头后端记录的一次绘制操作
type DrawOp struct {
	Kind  string // "image" / "text" / "clear"
	Eye   Eye
	Name  string
	X, Y  int
	W, H  int
	Text  string
	Color Colour
}

// HeadlessBackend 无头渲染后端：不依赖窗口系统，把绘制操作记入内存，
// Present的翻转时间戳取自注入的时钟。测试与演示用
type HeadlessBackend struct {
	clock    clock.Clock
	surfaces int
	width    int
	height   int
	flipLag  time.Duration // 模拟缓冲交换耗时

	mu      sync.Mutex
	opened  bool
	pending []DrawOp
	flips   []time.Time
	history []DrawOp
}

// NewHeadlessBackend 创建无头后端
func NewHeadlessBackend(clk clock.Clock, surfaces, width, height int) *HeadlessBackend {
	return &HeadlessBackend{
		clock:    clk,
		surfaces: surfaces,
		width:    width,
		height:   height,
		flipLag:  time.Millisecond,
	}
}

// SurfaceCount 返回可用显示面数量
func (b *HeadlessBackend) SurfaceCount() int {
	return b.surfaces
}

// Open 打开显示面
func (b *HeadlessBackend) Open(cfg Config) (SurfaceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cfg.SurfaceIndex >= b.surfaces {
		return SurfaceInfo{}, errors.New("surface index out of range")
	}
	b.opened = true
	return SurfaceInfo{Index: cfg.SurfaceIndex, Width: b.width, Height: b.height}, nil
}

// DrawImage 记录一次图像绘制
func (b *HeadlessBackend) DrawImage(eye Eye, img *ImageBuffer, x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return ErrPresenterClosed
	}
	b.pending = append(b.pending, DrawOp{
		Kind: "image", Eye: eye, Name: img.Name, X: x, Y: y, W: img.Width, H: img.Height,
	})
	return nil
}

// DrawText 记录一次文本绘制
func (b *HeadlessBackend) DrawText(eye Eye, text string, x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return ErrPresenterClosed
	}
	b.pending = append(b.pending, DrawOp{Kind: "text", Eye: eye, Text: text, X: x, Y: y})
	return nil
}

// Clear 记录一次清屏
func (b *HeadlessBackend) Clear(c Colour) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return ErrPresenterClosed
	}
	b.pending = append(b.pending, DrawOp{Kind: "clear", Color: c})
	return nil
}

// Present 模拟缓冲交换，返回翻转时间戳
func (b *HeadlessBackend) Present() (time.Time, error) {
	b.clock.Sleep(b.flipLag)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return time.Time{}, ErrPresenterClosed
	}
	ts := b.clock.Now()
	b.flips = append(b.flips, ts)
	b.history = append(b.history, b.pending...)
	b.pending = nil
	return ts, nil
}

// Close 释放显示面，可重复调用
func (b *HeadlessBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = false
	return nil
}

// Opened 返回显示面是否仍打开
func (b *HeadlessBackend) Opened() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// History 返回已呈现的绘制操作副本
func (b *HeadlessBackend) History() []DrawOp {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DrawOp{}, b.history...)
}

// Flips 返回所有翻转时间戳
func (b *HeadlessBackend) Flips() []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]time.Time{}, b.flips...)
}
