package trial

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GazeTrialRunner/internal/clock"
	"GazeTrialRunner/internal/config"
	"GazeTrialRunner/internal/devlink"
	"GazeTrialRunner/internal/display"
	"GazeTrialRunner/internal/eventlog"
	"GazeTrialRunner/internal/recovery"
	"GazeTrialRunner/internal/session"
)

// scriptedInput 在第N次轮询时产生结束输入
type scriptedInput struct {
	endOnPoll int
	button    int
	polls     int
	onPoll    func(n int)
}

func (s *scriptedInput) Engage() error { return nil }

func (s *scriptedInput) Arm() { s.polls = 0 }

func (s *scriptedInput) Poll() (bool, int) {
	s.polls++
	if s.onPoll != nil {
		s.onPoll(s.polls)
	}
	if s.polls >= s.endOnPoll {
		return true, s.button
	}
	return false, 0
}

func (s *scriptedInput) Release() error { return nil }

// healthyChecker 恒健康
type healthyChecker struct{}

func (healthyChecker) Check() recovery.Status { return recovery.Healthy }

// flakyChecker 前N次健康，之后失联
type flakyChecker struct {
	healthyFor int
	checks     int
}

func (f *flakyChecker) Check() recovery.Status {
	f.checks++
	if f.checks > f.healthyFor {
		return recovery.Lost
	}
	return recovery.Healthy
}

type harness struct {
	clk   *clock.Fake
	fake  *devlink.FakeLink
	sess  *session.Manager
	log   *eventlog.Logger
	pres  *display.Presenter
	input *scriptedInput
}

// newHarness 组装一个完整就绪的试次环境：已连接、已开日志文件、已配置通道
func newHarness(t *testing.T, link devlink.Link) *harness {
	t.Helper()
	clk := clock.NewFake(time.Unix(2000, 0))
	cfg := config.Default()

	fake, _ := link.(*devlink.FakeLink)
	sess := session.NewManager(link, clk, cfg, "test-run")
	log := eventlog.New(sess, clk)
	sess.SetEventLog(log)

	require.NoError(t, sess.Connect(context.Background()))
	require.NoError(t, sess.OpenFile("trial_1"))
	require.NoError(t, sess.ConfigureChannels(1024, 768))

	backend := display.NewHeadlessBackend(clk, 1, 1024, 768)
	pres, err := display.Open(backend, display.DefaultConfig())
	require.NoError(t, err)

	return &harness{
		clk:   clk,
		fake:  fake,
		sess:  sess,
		log:   log,
		pres:  pres,
		input: &scriptedInput{endOnPoll: 3, button: 5},
	}
}

func (h *harness) controller(checker recovery.Checker, cfg *config.Config) *Controller {
	return NewController(h.sess, h.pres, h.log, checker, h.input, h.clk, cfg, "test-run")
}

func stereoSpec() Spec {
	return Spec{
		Left:  display.NewSolidImage("left.png", 320, 240, display.Colour{R: 200}),
		Right: display.NewSolidImage("right.png", 320, 240, display.Colour{B: 200}),
	}
}

// TestRunTrialMessageOrder 完整试次产生的消息序列及其内容
func TestRunTrialMessageOrder(t *testing.T) {
	h := newHarness(t, devlink.NewFakeLink())
	c := h.controller(healthyChecker{}, config.Default())

	tr, err := c.RunTrial(context.Background(), stereoSpec())
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Index)
	assert.Equal(t, ResultOK, tr.Result)
	assert.False(t, tr.Aborted)

	// 2ms消息间隔×3加10ms轮询间隔×2，假时钟下反应时完全确定
	assert.Equal(t, int64(26), tr.ReactionMS)

	// 320×240刺激在1024×768显示面上居中的外接矩形
	want := []string{
		"DISPLAY_COORDS 0 0 1023 767",
		"TRIALID 1",
		"SYNCTIME",
		"!V CLEAR 116 116 116",
		"!V IMGLOAD CENTER left.png 512 384",
		"!V IAREA RECTANGLE 1 352 264 672 504 left.png",
		"ENDBUTTON 5",
		"!V TRIAL_VAR index 1",
		"!V TRIAL_VAR left_image left.png",
		"!V TRIAL_VAR right_image right.png",
		"!V TRIAL_VAR rt 26",
		"TRIAL_RESULT 0",
	}
	assert.Equal(t, want, h.fake.Messages())

	// 消息时间戳严格非降
	stamps := h.fake.MessageStamps()
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i], stamps[i-1], "stamp %d", i)
	}

	// 恰好一个完整的记录区间，呈现发生在记录开始之后
	assert.Equal(t, 1, h.fake.RecordingIntervals())
	t.Log("✅ full trial message sequence verified")
}

// TestTrialIndicesContiguous 试次序号从1起无间隙递增
func TestTrialIndicesContiguous(t *testing.T) {
	h := newHarness(t, devlink.NewFakeLink())
	c := h.controller(healthyChecker{}, config.Default())

	for i := 0; i < 3; i++ {
		tr, err := c.RunTrial(context.Background(), stereoSpec())
		require.NoError(t, err)
		assert.Positive(t, tr.ReactionMS)
	}

	history := c.History()
	require.Len(t, history, 3)
	for i, tr := range history {
		assert.Equal(t, i+1, tr.Index)
	}
	assert.Equal(t, 3, h.fake.RecordingIntervals())
}

// TestLinkLostMidTrialAborts 输入等待中健康检查报失联：试次中止，
// 运行级错误返回，会话标记为中止
func TestLinkLostMidTrialAborts(t *testing.T) {
	h := newHarness(t, devlink.NewFakeLink())
	h.input.endOnPoll = 100
	c := h.controller(&flakyChecker{healthyFor: 2}, config.Default())

	tr, err := c.RunTrial(context.Background(), stereoSpec())
	assert.ErrorIs(t, err, recovery.ErrRecordingLost)
	assert.True(t, tr.Aborted)
	assert.Equal(t, StateAborted, c.State())
	assert.Equal(t, session.StateAborted, h.sess.State())
	assert.Empty(t, c.History(), "aborted trial must not enter history")
}

// TestContextCancelAborts 取消上下文中止输入等待
func TestContextCancelAborts(t *testing.T) {
	h := newHarness(t, devlink.NewFakeLink())
	h.input.endOnPoll = 100
	c := h.controller(healthyChecker{}, config.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr, err := c.RunTrial(ctx, stereoSpec())
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, tr.Aborted)
}

// failingTransferLink 背景图传送始终失败
type failingTransferLink struct {
	*devlink.FakeLink
}

func (l *failingTransferLink) TransferImage(name string, x, y, w, h int) error {
	return errors.New("image transfer refused")
}

// TestImageTransferWarns 背景图传送失败默认按警告处理，试次继续
func TestImageTransferWarns(t *testing.T) {
	h := newHarness(t, &failingTransferLink{FakeLink: devlink.NewFakeLink()})
	c := h.controller(healthyChecker{}, config.Default())

	tr, err := c.RunTrial(context.Background(), stereoSpec())
	require.NoError(t, err)
	assert.Equal(t, ResultOK, tr.Result)
	require.NotEmpty(t, c.Warnings())
	assert.Contains(t, c.Warnings()[0], "image transfer")
}

// TestImageTransferFatalPolicy 策略开关把传送失败升级为致命，
// 试次在记录开始前终止
func TestImageTransferFatalPolicy(t *testing.T) {
	inner := devlink.NewFakeLink()
	h := newHarness(t, &failingTransferLink{FakeLink: inner})
	cfg := config.Default()
	cfg.Policy.ImageTransferFatal = true
	c := h.controller(healthyChecker{}, cfg)

	_, err := c.RunTrial(context.Background(), stereoSpec())
	require.Error(t, err)
	assert.NotContains(t, inner.Ops(), "RECSTART")
	assert.Empty(t, c.History())
}

// TestDriftFailureOnlyWarns 漂移校正未通过不阻塞试次
func TestDriftFailureOnlyWarns(t *testing.T) {
	fake := devlink.NewFakeLink()
	fake.SetDriftPass(false)
	h := newHarness(t, fake)
	c := h.controller(healthyChecker{}, config.Default())

	tr, err := c.RunTrial(context.Background(), stereoSpec())
	require.NoError(t, err)
	assert.Equal(t, ResultOK, tr.Result)
	require.NotEmpty(t, c.Warnings())
	assert.Contains(t, c.Warnings()[0], "drift correction")
}
