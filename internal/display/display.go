package display

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientSurfaces 双屏模式要求至少两块物理显示面
	ErrInsufficientSurfaces = errors.New("dual-surface mode requires at least two physical surfaces")
	ErrPresenterClosed      = errors.New("presenter is closed")
)

// RenderMode 呈现模式，数值与设备侧约定一致
type RenderMode int

const (
	ModeMono             RenderMode = 0  // 单屏
	ModeSplitFreeFusion  RenderMode = 4  // 分屏自由融合
	ModeSplitCrossFusion RenderMode = 5  // 分屏交叉融合
	ModeDualSurface      RenderMode = 10 // 双物理屏，每眼一块
)

// String 实现字符串接口
func (m RenderMode) String() string {
	switch m {
	case ModeMono:
		return "MONO"
	case ModeSplitFreeFusion:
		return "SPLIT_FREE_FUSION"
	case ModeSplitCrossFusion:
		return "SPLIT_CROSS_FUSION"
	case ModeDualSurface:
		return "DUAL_SURFACE"
	default:
		return "UNKNOWN"
	}
}

// Valid 检查模式是否有效
func (m RenderMode) Valid() bool {
	switch m {
	case ModeMono, ModeSplitFreeFusion, ModeSplitCrossFusion, ModeDualSurface:
		return true
	default:
		return false
	}
}

// Eye 眼别
type Eye int

const (
	EyeLeft Eye = iota
	EyeRight
)

// Config 显示配置。SurfaceIndex为-1时默认使用编号最大的显示面；
// 双屏模式要求显式指定两块不同的显示面
type Config struct {
	Mode          RenderMode
	SurfaceIndex  int
	SecondSurface int
}

// DefaultConfig 返回默认配置（单屏，自动选择显示面）
func DefaultConfig() Config {
	return Config{Mode: ModeMono, SurfaceIndex: -1, SecondSurface: -1}
}

// SurfaceInfo 主显示面句柄信息
type SurfaceInfo struct {
	Index  int
	Width  int
	Height int
}

// Colour RGB颜色
type Colour struct {
	R, G, B int
}

// Backend 渲染后端边界。真实后端（窗口系统）在本模块之外，
// 这里只约定其接口；HeadlessBackend用于测试与演示
type Backend interface {
	// SurfaceCount 返回可用物理显示面数量
	SurfaceCount() int
	// Open 按配置打开显示面，返回主显示面信息
	Open(cfg Config) (SurfaceInfo, error)
	// DrawImage 向指定眼别的后备缓冲绘制图像，不呈现
	DrawImage(eye Eye, img *ImageBuffer, x, y int) error
	// DrawText 向指定眼别的后备缓冲绘制文本
	DrawText(eye Eye, text string, x, y int) error
	// Clear 以纯色清空后备缓冲
	Clear(c Colour) error
	// Present 交换缓冲，返回权威的呈现时间戳
	Present() (time.Time, error)
	// Close 释放显示面，可重复调用
	Close() error
}

// Presenter 显示呈现器。拥有可绘制显示面，Present返回的时间戳
// 是"刺激实际何时显示"的唯一事实来源
type Presenter struct {
	backend Backend
	cfg     Config
	info    SurfaceInfo
	open    bool
}

// Open 打开显示面。双屏模式在打开前检查物理显示面数量，
// 不足时立即失败，不做任何设备交互
func Open(backend Backend, cfg Config) (*Presenter, error) {
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("unrecognized render mode %d", int(cfg.Mode))
	}
	if cfg.Mode == ModeDualSurface {
		if backend.SurfaceCount() < 2 {
			return nil, ErrInsufficientSurfaces
		}
		if cfg.SurfaceIndex < 0 || cfg.SecondSurface < 0 || cfg.SurfaceIndex == cfg.SecondSurface {
			return nil, fmt.Errorf("dual-surface mode requires two distinct surface indices, got %d and %d",
				cfg.SurfaceIndex, cfg.SecondSurface)
		}
	} else if cfg.SurfaceIndex < 0 {
		// 默认使用编号最大的显示面
		cfg.SurfaceIndex = backend.SurfaceCount() - 1
	}

	info, err := backend.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open surface: %w", err)
	}

	return &Presenter{backend: backend, cfg: cfg, info: info, open: true}, nil
}

// Info 返回主显示面信息
func (p *Presenter) Info() SurfaceInfo {
	return p.info
}

// Size 返回主显示面像素尺寸
func (p *Presenter) Size() (width, height int) {
	return p.info.Width, p.info.Height
}

// DrawStereoFrame 把左右眼刺激绘制到各自的后备缓冲，不呈现。
// 每眼的目标位置由呈现模式决定；交叉融合模式左右互换
func (p *Presenter) DrawStereoFrame(left, right *ImageBuffer, overlayText string) error {
	if !p.open {
		return ErrPresenterClosed
	}

	leftEye, rightEye := EyeLeft, EyeRight
	if p.cfg.Mode == ModeSplitCrossFusion {
		leftEye, rightEye = EyeRight, EyeLeft
	}

	lx, ly := p.eyePlacement(leftEye, left)
	if err := p.backend.DrawImage(leftEye, left, lx, ly); err != nil {
		return fmt.Errorf("draw left view: %w", err)
	}
	rx, ry := p.eyePlacement(rightEye, right)
	if err := p.backend.DrawImage(rightEye, right, rx, ry); err != nil {
		return fmt.Errorf("draw right view: %w", err)
	}

	if overlayText != "" {
		if err := p.backend.DrawText(EyeLeft, overlayText, p.info.Width/2, p.info.Height-20); err != nil {
			return fmt.Errorf("draw overlay: %w", err)
		}
	}
	return nil
}

// eyePlacement 计算某眼视图的左上角坐标
func (p *Presenter) eyePlacement(eye Eye, img *ImageBuffer) (x, y int) {
	switch p.cfg.Mode {
	case ModeSplitFreeFusion, ModeSplitCrossFusion:
		// 半屏内居中
		half := p.info.Width / 2
		x = half/2 - img.Width/2
		if eye == EyeRight {
			x += half
		}
	default:
		// 整屏居中
		x = p.info.Width/2 - img.Width/2
	}
	y = p.info.Height/2 - img.Height/2
	return x, y
}

// Present 交换缓冲并返回呈现起始时间戳
func (p *Presenter) Present() (time.Time, error) {
	if !p.open {
		return time.Time{}, ErrPresenterClosed
	}
	ts, err := p.backend.Present()
	if err != nil {
		return time.Time{}, fmt.Errorf("present: %w", err)
	}
	return ts, nil
}

// Clear 以纯色清空后备缓冲
func (p *Presenter) Clear(c Colour) error {
	if !p.open {
		return ErrPresenterClosed
	}
	return p.backend.Clear(c)
}

// Close 释放显示面，每条退出路径都会调用，可重复调用
func (p *Presenter) Close() error {
	if !p.open {
		return nil
	}
	p.open = false
	return p.backend.Close()
}
