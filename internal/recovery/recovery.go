package recovery

import (
	"errors"
	"fmt"

	"GazeTrialRunner/internal/devlink"
	"GazeTrialRunner/internal/display"
	"GazeTrialRunner/internal/logger"
	"GazeTrialRunner/internal/session"
)

// ErrRecordingLost 记录中途设备失联。致命：中止整个运行并走完整收尾
var ErrRecordingLost = errors.New("recording lost: tracker link failed mid-trial")

// Status 健康检查结果
type Status int

const (
	Healthy Status = iota
	Lost
)

// String 实现字符串接口
func (s Status) String() string {
	if s == Healthy {
		return "HEALTHY"
	}
	return "LOST"
}

// Checker 监督性健康检查，输入等待循环的每次迭代调用一次
type Checker interface {
	Check() Status
}

// LinkChecker 基于链路探测的健康检查
type LinkChecker struct {
	link devlink.Link
}

// NewLinkChecker 创建链路健康检查器
func NewLinkChecker(link devlink.Link) *LinkChecker {
	return &LinkChecker{link: link}
}

// Check 探测链路
func (c *LinkChecker) Check() Status {
	if !c.link.Connected() {
		return Lost
	}
	if err := c.link.Ping(); err != nil {
		return Lost
	}
	return Healthy
}

// Releaser 输入捕获的释放端：恢复捕获状态与指针可见性
type Releaser interface {
	Release() error
}

// Report 收尾结果。次级错误全部收集，不中断收尾序列
type Report struct {
	TransferredPath string
	Errors          []error
}

// Err 把收集到的次级错误合并为一个
func (r *Report) Err() error {
	return errors.Join(r.Errors...)
}

// Teardown 应急收尾路径。无论哪一步报错都继续走完整个序列——
// 收尾是尽力而为，但绝不能把设备会话留在打开状态
type Teardown struct {
	Session     *session.Manager
	Presenter   *display.Presenter
	Input       Releaser
	TransferDir string
	RunID       string
}

// Run 按严格顺序执行：转入空闲、关闭日志文件、清空设备端显示、
// 取回已关闭的日志文件、释放渲染面、恢复输入捕获
func (t *Teardown) Run() *Report {
	report := &Report{}
	record := func(stage string, err error) {
		if err != nil && !errors.Is(err, session.ErrAlreadyClosed) {
			report.Errors = append(report.Errors, fmt.Errorf("%s: %w", stage, err))
			logger.Warning("recovery", fmt.Sprintf("teardown stage %s failed: %v", stage, err), t.RunID)
		}
	}

	link := t.Session.Link()

	t.Session.GoIdle()
	record("close session", t.Session.Close())

	if link != nil && !link.Dummy() {
		record("clear device display", link.SendCommand("clear_screen 0"))
	}

	path, err := t.Session.Transfer(t.TransferDir)
	record("transfer data file", err)
	report.TransferredPath = path

	if link != nil {
		record("close link", link.Close())
	}
	if t.Presenter != nil {
		record("close surface", t.Presenter.Close())
	}
	if t.Input != nil {
		record("release input capture", t.Input.Release())
	}
	return report
}
