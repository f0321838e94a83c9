package trial

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"GazeTrialRunner/internal/clock"
	"GazeTrialRunner/internal/config"
	"GazeTrialRunner/internal/display"
	"GazeTrialRunner/internal/eventlog"
	"GazeTrialRunner/internal/logger"
	"GazeTrialRunner/internal/recovery"
	"GazeTrialRunner/internal/session"
)

// Controller 试次控制器。驱动每个试次的状态机：主机端准备、漂移校正、
// 记录起止、刺激呈现、输入等待、试次变量落日志。每次RunTrial完全独立，
// 只共享单调递增的试次序号与会话状态
type Controller struct {
	session   *session.Manager
	presenter *display.Presenter
	logger    *eventlog.Logger
	checker   recovery.Checker
	input     InputSource
	clock     clock.Clock

	timing     config.TimingConfig
	policy     config.PolicyConfig
	background display.Colour
	runID      string

	state atomic.Int32

	mu       sync.Mutex
	index    int
	history  []*Trial
	warnings []string
}

// NewController 创建试次控制器
func NewController(sess *session.Manager, pres *display.Presenter, log *eventlog.Logger,
	checker recovery.Checker, input InputSource, clk clock.Clock, cfg *config.Config, runID string) *Controller {
	return &Controller{
		session:   sess,
		presenter: pres,
		logger:    log,
		checker:   checker,
		input:     input,
		clock:     clk,
		timing:    cfg.Timing,
		policy:    cfg.Policy,
		background: display.Colour{
			R: cfg.Display.BackgroundR,
			G: cfg.Display.BackgroundG,
			B: cfg.Display.BackgroundB,
		},
		runID: runID,
	}
}

// State 返回当前试次状态，监视接口用
func (c *Controller) State() TrialState {
	return TrialState(c.state.Load())
}

// setState 状态转换
func (c *Controller) setState(s TrialState) {
	c.state.Store(int32(s))
}

// History 返回已完成试次的只读副本
func (c *Controller) History() []*Trial {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Trial, len(c.history))
	copy(out, c.history)
	return out
}

// Warnings 返回累计的非致命警告
func (c *Controller) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.warnings...)
}

// warn 记录一条非致命警告，试次继续
func (c *Controller) warn(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	c.mu.Lock()
	c.warnings = append(c.warnings, text)
	c.mu.Unlock()
	logger.Warning("trial", text, c.runID)
}

// centeredBounds 计算刺激在显示面上居中放置的外接矩形
func centeredBounds(surfaceW, surfaceH int, img *display.ImageBuffer) (x1, y1, x2, y2 int) {
	x1 = surfaceW/2 - img.Width/2
	y1 = surfaceH/2 - img.Height/2
	x2 = surfaceW/2 + img.Width/2
	y2 = surfaceH/2 + img.Height/2
	return
}

// RunTrial 运行一个完整试次。返回的Trial在正常结束后不再变更；
// 设备失联时返回recovery.ErrRecordingLost，由上层走应急收尾并终止整个运行
func (c *Controller) RunTrial(ctx context.Context, spec Spec) (*Trial, error) {
	// TrialStart：分配下一个试次序号（严格等于前一个加一）
	c.setState(StateTrialStart)
	c.mu.Lock()
	index := c.index + 1
	c.mu.Unlock()

	t := &Trial{
		Index:     index,
		LeftName:  spec.Left.Name,
		RightName: spec.Right.Name,
	}
	if err := c.logger.TrialStart(index); err != nil {
		return t, err
	}

	surfaceW, surfaceH := c.presenter.Size()
	x1, y1, x2, y2 := centeredBounds(surfaceW, surfaceH, spec.Left)

	// HostSetup：向设备端传送定位背景图供操作员监视，并画出刺激外接框。
	// 传送失败默认按警告处理，试次继续（可配置为致命）
	c.setState(StateHostSetup)
	link := c.session.Link()
	if err := link.TransferImage(spec.Left.Name, x1, y1, spec.Left.Width, spec.Left.Height); err != nil {
		if c.policy.ImageTransferFatal {
			return t, fmt.Errorf("backdrop image transfer: %w", err)
		}
		c.warn("trial %d: backdrop image transfer failed: %v", index, err)
	}
	if err := link.SendCommand(fmt.Sprintf("draw_box %d %d %d %d 7", x1, y1, x2, y2)); err != nil {
		c.warn("trial %d: highlight region command failed: %v", index, err)
	}

	// DriftCorrect：屏幕中心目标点，阻塞调用；通过与否都继续，失败只留警告
	c.setState(StateDriftCorrect)
	if result, err := link.DriftCorrect(ctx, surfaceW/2, surfaceH/2); err != nil {
		c.warn("trial %d: drift correction error: %v", index, err)
	} else if !result.OK {
		c.warn("trial %d: drift correction did not pass", index)
	}

	// RecordStart：先空闲再记录；记录开始后的固定延时保证刺激起始消息
	// 之前已有基线采样——这是正确性要求，下游分析依赖于此
	c.setState(StateRecordStart)
	if err := c.session.BeginRecording(); err != nil {
		return t, fmt.Errorf("%w: %v", recovery.ErrRecordingLost, err)
	}
	c.clock.Sleep(c.timing.RecordSettle)

	// Presenting：翻转缓冲，呈现时间戳是反应时与起始消息的唯一事实来源
	c.setState(StatePresenting)
	if err := c.presenter.Clear(c.background); err != nil {
		return t, err
	}
	if err := c.presenter.DrawStereoFrame(spec.Left, spec.Right, fmt.Sprintf("trial %d", index)); err != nil {
		return t, err
	}
	onset, err := c.presenter.Present()
	if err != nil {
		return t, err
	}
	t.Onset = onset

	if err := c.logger.StimulusOnset(); err != nil {
		return t, err
	}
	c.clock.Sleep(c.timing.MessageGap)
	if err := c.logger.ClearBackdrop(c.background.R, c.background.G, c.background.B); err != nil {
		return t, err
	}
	c.clock.Sleep(c.timing.MessageGap)
	if err := c.logger.BackdropImage(spec.Left.Name, surfaceW/2, surfaceH/2); err != nil {
		return t, err
	}
	c.clock.Sleep(c.timing.MessageGap)
	if err := c.logger.InterestArea(1, x1, y1, x2, y2, spec.Left.Name); err != nil {
		return t, err
	}

	// WaitForInput：轮询循环，每次迭代先做健康检查再查结束输入，
	// 迭代之间短暂让出，不忙转
	c.setState(StateWaitForInput)
	c.input.Arm()
	for {
		if c.checker.Check() == recovery.Lost {
			c.setState(StateAborted)
			t.Aborted = true
			c.session.Abort()
			return t, recovery.ErrRecordingLost
		}
		if ended, button := c.input.Poll(); ended {
			t.End = c.clock.Now()
			if err := c.logger.EndButton(button); err != nil {
				return t, err
			}
			break
		}
		select {
		case <-ctx.Done():
			c.setState(StateAborted)
			t.Aborted = true
			c.session.Abort()
			return t, ctx.Err()
		default:
		}
		c.clock.Sleep(c.timing.PollInterval)
	}
	t.ReactionMS = t.End.Sub(t.Onset).Milliseconds()

	// RecordStop：先落定保留尾部采样，停止记录后再短暂延时
	c.setState(StateRecordStop)
	c.clock.Sleep(c.timing.StopSettle)
	if err := c.session.EndRecording(); err != nil {
		return t, fmt.Errorf("%w: %v", recovery.ErrRecordingLost, err)
	}
	c.clock.Sleep(c.timing.PostStop)

	// LogVariables：逐条发送试次变量，连续发送之间留防突发间隔——
	// 这是设备链路的已知协议限制，必须遵守
	c.setState(StateLogVariables)
	vars := []struct {
		name  string
		value interface{}
	}{
		{"index", index},
		{"left_image", spec.Left.Name},
		{"right_image", spec.Right.Name},
		{"rt", t.ReactionMS},
	}
	for _, v := range vars {
		if err := c.logger.TrialVar(v.name, v.value); err != nil {
			return t, err
		}
		c.clock.Sleep(c.timing.MessageGap)
	}
	t.Result = ResultOK
	if err := c.logger.TrialResult(t.Result); err != nil {
		return t, err
	}

	// TrialEnd：释放刺激资产所有权，试次进入只读历史
	c.setState(StateTrialEnd)
	c.mu.Lock()
	c.index = index
	c.history = append(c.history, t)
	c.mu.Unlock()
	return t, nil
}
