package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"GazeTrialRunner/internal/clock"
	"GazeTrialRunner/internal/config"
	"GazeTrialRunner/internal/devlink"
	"GazeTrialRunner/internal/eventlog"
	"GazeTrialRunner/internal/logger"
)

const (
	// MaxFileNameLen 设备日志文件名的最大长度
	MaxFileNameLen = 8
	// ExtendedTrackingMinVersion 启用扩展目标追踪采样类别的最低设备版本
	ExtendedTrackingMinVersion = 3
	// DataFileExt 取回到本地的日志文件扩展名
	DataFileExt = ".trk"
)

var (
	ErrAlreadyClosed       = errors.New("session already closed")
	ErrCalibrationAborted  = errors.New("calibration aborted by operator")
	ErrInvalidStateForCall = errors.New("invalid session state for this call")
)

// FileOpenError 日志文件创建失败。致命：触发立即收尾，不再与设备交互
type FileOpenError struct {
	Name   string
	Reason string
}

// Error 实现error接口
func (e *FileOpenError) Error() string {
	return fmt.Sprintf("open data file %q: %s", e.Name, e.Reason)
}

// Manager 会话管理器。独占持有追踪设备的会话生命周期：
// 连接、开日志文件、配置数据通道、校准、收尾、取回文件。
// 状态只通过这里声明的转换变更，每次运行恰好关闭一次
type Manager struct {
	live   devlink.Link
	link   devlink.Link
	logger *eventlog.Logger
	clock  clock.Clock

	tracker      config.TrackerConfig
	timing       config.TimingConfig
	calType      string
	acceptButton int
	runID        string

	state    atomic.Int32
	dummy    bool
	fileName string
	closed   atomic.Bool
}

// NewManager 创建会话管理器。live为真实设备链路，Connect失败时降级为哑模式。
// 事件日志器经SetEventLog注入：它的下游是Connect之后才确定的生效链路
func NewManager(live devlink.Link, clk clock.Clock, cfg *config.Config, runID string) *Manager {
	m := &Manager{
		live:         live,
		clock:        clk,
		tracker:      cfg.Tracker,
		timing:       cfg.Timing,
		calType:      cfg.Session.CalibrationType,
		acceptButton: cfg.Session.AcceptButton,
		runID:        runID,
	}
	m.state.Store(int32(StateUninitialized))
	return m
}

// State 返回当前会话状态
func (m *Manager) State() State {
	return State(m.state.Load())
}

// setState 状态转换
func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// Dummy 返回会话是否运行在哑模式
func (m *Manager) Dummy() bool {
	return m.dummy
}

// Link 返回当前生效的设备链路
func (m *Manager) Link() devlink.Link {
	return m.link
}

// SetEventLog 注入事件日志器
func (m *Manager) SetEventLog(l *eventlog.Logger) {
	m.logger = l
}

// SendMessage 把事件日志器的消息转发到当前生效链路，实现eventlog.Sink
func (m *Manager) SendMessage(trackerMS int64, text string) error {
	if m.link == nil {
		return devlink.ErrNotConnected
	}
	return m.link.SendMessage(trackerMS, text)
}

// FileName 返回设备日志文件名
func (m *Manager) FileName() string {
	return m.fileName
}

// VersionTag 返回设备软件版本号
func (m *Manager) VersionTag() int {
	if m.link == nil {
		return 0
	}
	return m.link.Version()
}

// Connect 建立设备连接。真实连接带退避重试；最终失败时不中止，
// 而是降级为哑模式会话（无落盘日志、无真实记录），纯展示测试得以继续
func (m *Manager) Connect(ctx context.Context) error {
	if m.State() != StateUninitialized {
		return fmt.Errorf("%w: connect from %s", ErrInvalidStateForCall, m.State())
	}

	if m.tracker.Dummy {
		m.link = devlink.NewDummy()
		m.dummy = true
		m.setState(StateConnected)
		logger.Info("session", "dummy mode requested, no device connection attempted", m.runID)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.tracker.RetryInterval
	policy.MaxInterval = m.tracker.RetryMaxInterval

	err := backoff.Retry(func() error {
		connectCtx, cancel := context.WithTimeout(ctx, m.tracker.ConnectTimeout)
		defer cancel()
		return m.live.Connect(connectCtx)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, m.tracker.ConnectRetries), ctx))

	if err != nil {
		// 连接失败降级而非中止
		logger.Warning("session", fmt.Sprintf("device connection failed (%v), falling back to dummy mode", err), m.runID)
		m.link = devlink.NewDummy()
		m.dummy = true
		m.setState(StateConnected)
		return nil
	}

	m.link = m.live
	m.setState(StateConnected)
	logger.Success("session",
		fmt.Sprintf("connected to tracker, version %d (%s)", m.link.Version(), m.link.VersionTag()), m.runID)
	return nil
}

// ValidateFileName 检查设备日志文件名：1–8个字符，字母数字或下划线
func ValidateFileName(name string) error {
	if name == "" {
		return errors.New("name is empty")
	}
	if len(name) > MaxFileNameLen {
		return fmt.Errorf("name exceeds %d characters", MaxFileNameLen)
	}
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return fmt.Errorf("name contains invalid character %q", r)
	}
	return nil
}

// OpenFile 在设备上创建日志文件。名称非法或设备拒绝创建都是致命错误；
// 此时日志从未到达FileOpen，无需冲刷，调用方应立即收尾
func (m *Manager) OpenFile(name string) error {
	if m.State() != StateConnected {
		return fmt.Errorf("%w: open file from %s", ErrInvalidStateForCall, m.State())
	}
	if err := ValidateFileName(name); err != nil {
		return &FileOpenError{Name: name, Reason: err.Error()}
	}

	if err := m.link.OpenDataFile(name); err != nil {
		return &FileOpenError{Name: name, Reason: err.Error()}
	}

	m.fileName = name
	m.setState(StateFileOpen)
	m.logger.Open(m.clock.Now())
	return nil
}

// ConfigureChannels 选择记录/链路传输的数据类别并发送校准几何配置。
// 高能力版本的设备多启用一个扩展目标追踪类别，低版本必须省略——
// 这是版本门控配置，不是硬失败
func (m *Manager) ConfigureChannels(surfaceWidth, surfaceHeight int) error {
	if m.State() != StateFileOpen {
		return fmt.Errorf("%w: configure from %s", ErrInvalidStateForCall, m.State())
	}

	samples := "GAZE,GAZERES,AREA,STATUS"
	if m.link.Version() >= ExtendedTrackingMinVersion {
		samples += ",HTARGET"
	}
	events := "LEFT,RIGHT,FIXATION,SACCADE,BLINK,MESSAGE,BUTTON,INPUT"

	commands := []string{
		fmt.Sprintf("screen_pixel_coords = 0 0 %d %d", surfaceWidth-1, surfaceHeight-1),
		"calibration_type = " + m.calType,
		"file_event_filter = " + events,
		"link_event_filter = " + events,
		"file_sample_data = " + samples,
		"link_sample_data = " + samples,
		fmt.Sprintf("button_function %d \"accept_target_fixation\"", m.acceptButton),
	}
	for _, cmd := range commands {
		if err := m.link.SendCommand(cmd); err != nil {
			return fmt.Errorf("configure channels: %w", err)
		}
	}

	return m.logger.DisplayCoords(surfaceWidth, surfaceHeight)
}

// Calibrate 运行校准。同步阻塞至操作员完成或取消；取消即显式中止信号，
// 不做程序化重试
func (m *Manager) Calibrate(ctx context.Context) error {
	if m.State() != StateFileOpen {
		return fmt.Errorf("%w: calibrate from %s", ErrInvalidStateForCall, m.State())
	}

	if err := m.link.Calibrate(ctx, m.calType); err != nil {
		if errors.Is(err, devlink.ErrCalibrationCancelled) {
			return ErrCalibrationAborted
		}
		return fmt.Errorf("calibration: %w", err)
	}
	m.setState(StateCalibrated)
	return nil
}

// GoIdle 设备转入空闲（离线）模式。Closed是终态，关闭后为空操作
func (m *Manager) GoIdle() {
	if m.closed.Load() {
		return
	}
	m.setState(StateIdle)
}

// BeginRecording 开始记录。先转入空闲再开记录，
// 保证试次的记录区间完整落在两次相邻空闲转换之间
func (m *Manager) BeginRecording() error {
	m.setState(StateIdle)
	if err := m.link.StartRecording(); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	m.setState(StateRecording)
	return nil
}

// EndRecording 停止记录并回到空闲
func (m *Manager) EndRecording() error {
	err := m.link.StopRecording()
	m.setState(StateIdle)
	if err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	return nil
}

// Abort 标记会话中止。终态仍由Close落到Closed；关闭后为空操作
func (m *Manager) Abort() {
	if m.closed.Load() {
		return
	}
	m.setState(StateAborted)
}

// Close 收尾会话。每次运行必须恰好调用一次；关闭前有一段落定延时，
// 让设备端缓冲写入落盘。日志文件若从未打开则跳过设备侧关闭
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return ErrAlreadyClosed
	}

	hadFile := m.fileName != ""
	m.setState(StateIdle)

	var err error
	if hadFile {
		m.clock.Sleep(m.timing.CloseSettle)
		if cerr := m.link.CloseDataFile(); cerr != nil {
			err = fmt.Errorf("close data file: %w", cerr)
		}
	}
	m.setState(StateClosed)
	return err
}

// Transfer 把已收尾的设备日志取回本地。哑模式下是空操作（无可传内容）；
// 真实设备上失败只降级为警告——实验已经完成，重试留给操作员
func (m *Manager) Transfer(destDir string) (string, error) {
	if m.dummy {
		logger.Info("session", "dummy mode: nothing to transfer", m.runID)
		return "", nil
	}
	if m.fileName == "" {
		return "", nil
	}

	localPath := filepath.Join(destDir, m.fileName+DataFileExt)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.tracker.RetryInterval
	policy.MaxInterval = m.tracker.RetryMaxInterval

	var size int64
	err := backoff.Retry(func() error {
		var rerr error
		size, rerr = m.link.ReceiveDataFile(m.fileName, localPath)
		return rerr
	}, backoff.WithMaxRetries(policy, m.tracker.TransferRetries))

	if err != nil {
		logger.Warning("session", fmt.Sprintf("data file transfer failed: %v (operator may retry)", err), m.runID)
		return "", fmt.Errorf("transfer %s: %w", m.fileName, err)
	}

	logger.Success("session", fmt.Sprintf("transferred %s (%d bytes) to %s", m.fileName, size, localPath), m.runID)
	return localPath, nil
}

// Describe 返回简短的会话描述，监视接口用
func (m *Manager) Describe() string {
	mode := "live"
	if m.dummy {
		mode = "dummy"
	}
	return strings.Join([]string{m.State().String(), mode, m.fileName}, " ") + fmt.Sprintf(" v%d", m.VersionTag())
}

// settleDelay 暴露收尾延时，测试用
func (m *Manager) settleDelay() time.Duration {
	return m.timing.CloseSettle
}
