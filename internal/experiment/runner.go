package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"GazeTrialRunner/internal/clock"
	"GazeTrialRunner/internal/config"
	"GazeTrialRunner/internal/devlink"
	"GazeTrialRunner/internal/display"
	"GazeTrialRunner/internal/eventlog"
	"GazeTrialRunner/internal/httpserver"
	"GazeTrialRunner/internal/logger"
	"GazeTrialRunner/internal/recovery"
	"GazeTrialRunner/internal/results"
	"GazeTrialRunner/internal/session"
	"GazeTrialRunner/internal/trial"
)

// RunReport 一次实验运行的最终结果
type RunReport struct {
	RunID           string         `json:"run_id"`
	SessionState    session.State  `json:"session_state"`
	Dummy           bool           `json:"dummy"`
	Trials          []*trial.Trial `json:"trials"`
	Warnings        []string       `json:"warnings"`
	TransferredPath string         `json:"transferred_path"`
	Err             error          `json:"-"`
}

// Runner 实验运行器。把会话管理、显示呈现、试次控制和应急收尾
// 组合成一次完整运行：会话初始化一次，逐个试次执行，收尾恰好一次。
// 这里也是唯一的顶层错误边界——任何未恢复的错误都汇入收尾路径
type Runner struct {
	cfg     *config.Config
	backend display.Backend
	live    devlink.Link
	input   trial.InputSource
	clock   clock.Clock
	specs   []trial.Spec
	store   *results.Store
	runID   string

	mu        sync.RWMutex
	sess      *session.Manager
	ctrl      *trial.Controller
	log       *eventlog.Logger
	presenter *display.Presenter
	warnings  []string
}

// NewRunner 创建实验运行器
func NewRunner(cfg *config.Config, backend display.Backend, live devlink.Link,
	input trial.InputSource, clk clock.Clock, specs []trial.Spec) *Runner {
	return &Runner{
		cfg:     cfg,
		backend: backend,
		live:    live,
		input:   input,
		clock:   clk,
		specs:   specs,
		runID:   uuid.NewString(),
	}
}

// SetResultsStore 注入可选的试次结果库
func (r *Runner) SetResultsStore(store *results.Store) {
	r.store = store
}

// RunID 返回本次运行的标识
func (r *Runner) RunID() string {
	return r.runID
}

// warn 记录一条运行级警告
func (r *Runner) warn(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.warnings = append(r.warnings, text)
	r.mu.Unlock()
	logger.Warning("experiment", text, r.runID)
}

// displayConfig 把配置映射到显示配置
func (r *Runner) displayConfig() display.Config {
	return display.Config{
		Mode:          display.RenderMode(r.cfg.Display.Mode),
		SurfaceIndex:  r.cfg.Display.SurfaceIndex,
		SecondSurface: r.cfg.Display.SecondSurface,
	}
}

// Run 执行完整实验。退出时保证：设备会话已关闭、渲染面已释放、
// 输入捕获已恢复——包括每一条失败路径
func (r *Runner) Run(ctx context.Context) *RunReport {
	report := &RunReport{RunID: r.runID}

	// 显示面先于任何设备交互打开，双屏数量不足在这里立刻失败
	presenter, err := display.Open(r.backend, r.displayConfig())
	if err != nil {
		report.Err = fmt.Errorf("open display: %w", err)
		logger.Error("experiment", report.Err.Error(), r.runID)
		return report
	}
	r.mu.Lock()
	r.presenter = presenter
	r.mu.Unlock()

	sess := session.NewManager(r.live, r.clock, r.cfg, r.runID)
	eventLog := eventlog.New(sess, r.clock)
	sess.SetEventLog(eventLog)
	r.mu.Lock()
	r.sess = sess
	r.log = eventLog
	r.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		report.Err = fmt.Errorf("connect: %w", err)
		sess.Abort()
		sess.Close()
		presenter.Close()
		return r.finish(report, nil)
	}
	if sess.Dummy() {
		r.warn("running in dummy mode: no data file will be recorded")
	}

	if err := sess.OpenFile(r.cfg.Session.FileName); err != nil {
		// 致命且先于FileOpen：日志无需冲刷，最小收尾，不再与设备交互
		logger.Error("experiment", fmt.Sprintf("data file open failed: %v", err), r.runID)
		sess.Abort()
		if cerr := sess.Close(); cerr != nil && !errors.Is(cerr, session.ErrAlreadyClosed) {
			r.warn("close after failed file open: %v", cerr)
		}
		sess.Link().Close()
		presenter.Close()
		report.Err = err
		return r.finish(report, nil)
	}

	surfaceW, surfaceH := presenter.Size()
	if err := sess.ConfigureChannels(surfaceW, surfaceH); err != nil {
		report.Err = err
		return r.finish(report, r.teardown())
	}

	if err := sess.Calibrate(ctx); err != nil {
		logger.Error("experiment", fmt.Sprintf("calibration stage failed: %v", err), r.runID)
		report.Err = err
		return r.finish(report, r.teardown())
	}

	if err := r.input.Engage(); err != nil {
		report.Err = fmt.Errorf("engage input capture: %w", err)
		return r.finish(report, r.teardown())
	}

	checker := recovery.NewLinkChecker(sess.Link())
	ctrl := trial.NewController(sess, presenter, eventLog, checker, r.input, r.clock, r.cfg, r.runID)
	r.mu.Lock()
	r.ctrl = ctrl
	r.mu.Unlock()

	for _, spec := range r.specs {
		tr, err := ctrl.RunTrial(ctx, spec)
		if err != nil {
			// 致命：跳过剩余试次，汇入收尾路径
			logger.Error("experiment",
				fmt.Sprintf("trial %d failed at stage %s: %v", tr.Index, ctrl.State(), err), r.runID)
			report.Err = err
			break
		}
		logger.Success("experiment",
			fmt.Sprintf("trial %d complete, rt=%dms", tr.Index, tr.ReactionMS), r.runID)
	}

	return r.finish(report, r.teardown())
}

// teardown 统一的收尾路径，正常完成与致命失败共用
func (r *Runner) teardown() *recovery.Report {
	td := &recovery.Teardown{
		Session:     r.sess,
		Presenter:   r.presenter,
		Input:       r.input,
		TransferDir: r.cfg.Session.TransferDir,
		RunID:       r.runID,
	}
	return td.Run()
}

// finish 汇总报告并（如配置了）落库
func (r *Runner) finish(report *RunReport, td *recovery.Report) *RunReport {
	report.SessionState = r.sess.State()
	report.Dummy = r.sess.Dummy()
	if r.ctrl != nil {
		report.Trials = r.ctrl.History()
		report.Warnings = append(report.Warnings, r.ctrl.Warnings()...)
	}
	r.mu.RLock()
	report.Warnings = append(report.Warnings, r.warnings...)
	r.mu.RUnlock()

	if td != nil {
		report.TransferredPath = td.TransferredPath
		for _, terr := range td.Errors {
			report.Warnings = append(report.Warnings, terr.Error())
		}
	}

	if r.store != nil && len(report.Trials) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.store.SaveRun(ctx, r.runID, r.cfg.Session.FileName, report.Trials); err != nil {
			r.warn("persist trial results: %v", err)
			report.Warnings = append(report.Warnings, fmt.Sprintf("persist trial results: %v", err))
		}
	}

	if report.Err == nil {
		logger.Success("experiment",
			fmt.Sprintf("run complete: %d trials, session %s", len(report.Trials), report.SessionState), r.runID)
	}
	return report
}

// Snapshot 实现httpserver.StatusSource
func (r *Runner) Snapshot() httpserver.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := httpserver.Snapshot{
		RunID:    r.runID,
		Warnings: append([]string{}, r.warnings...),
	}
	if r.sess != nil {
		snap.SessionState = r.sess.State().String()
		snap.Dummy = r.sess.Dummy()
	}
	if r.ctrl != nil {
		snap.TrialState = r.ctrl.State().String()
		snap.Trials = r.ctrl.History()
		snap.TrialsDone = len(snap.Trials)
		snap.Warnings = append(snap.Warnings, r.ctrl.Warnings()...)
	}
	if r.log != nil {
		snap.MessageCount = r.log.Count()
	}
	return snap
}
