package recovery

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
	"GazeTrialRunner/internal/session"
)

// releaseRecorder 记录输入捕获释放
type releaseRecorder struct {
	released bool
	err      error
}

func (r *releaseRecorder) Release() error {
	r.released = true
	return r.err
}

func newSession(t *testing.T, link devlink.Link) (*session.Manager, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(3000, 0))
	cfg := config.Default()
	cfg.Tracker.ConnectRetries = 0
	cfg.Tracker.TransferRetries = 0
	sess := session.NewManager(link, clk, cfg, "test-run")
	sess.SetEventLog(eventlog.New(sess, clk))
	require.NoError(t, sess.Connect(context.Background()))
	return sess, clk
}

func newPresenter(t *testing.T, clk clock.Clock) (*display.Presenter, *display.HeadlessBackend) {
	t.Helper()
	backend := display.NewHeadlessBackend(clk, 1, 800, 600)
	pres, err := display.Open(backend, display.DefaultConfig())
	require.NoError(t, err)
	return pres, backend
}

// TestLinkCheckerStatus 链路健康检查：连接且能探测为健康，失联为Lost
func TestLinkCheckerStatus(t *testing.T) {
	fake := devlink.NewFakeLink()
	require.NoError(t, fake.Connect(context.Background()))

	checker := NewLinkChecker(fake)
	assert.Equal(t, Healthy, checker.Check())

	fake.SetLost()
	assert.Equal(t, Lost, checker.Check())
}

// TestTeardownOrder 收尾序列的严格顺序：关文件、清设备端显示、取回文件，
// 之后才释放显示面与输入捕获
func TestTeardownOrder(t *testing.T) {
	fake := devlink.NewFakeLink()
	sess, clk := newSession(t, fake)
	require.NoError(t, sess.OpenFile("trial_1"))
	require.NoError(t, sess.ConfigureChannels(800, 600))

	pres, backend := newPresenter(t, clk)
	input := &releaseRecorder{}

	td := &Teardown{
		Session:     sess,
		Presenter:   pres,
		Input:       input,
		TransferDir: t.TempDir(),
		RunID:       "test-run",
	}
	report := td.Run()

	require.NoError(t, report.Err())
	assert.Equal(t, session.StateClosed, sess.State())
	assert.NotEmpty(t, report.TransferredPath)
	assert.False(t, backend.Opened())
	assert.True(t, input.released)

	// 设备侧操作顺序：关文件在清屏之前，清屏在取回之前
	ops := fake.Ops()
	idx := func(op string) int {
		for i, o := range ops {
			if o == op {
				return i
			}
		}
		t.Fatalf("op %s not found in %v", op, ops)
		return -1
	}
	assert.Less(t, idx("CLOSEFILE"), idx("CMD clear_screen 0"))
	assert.Less(t, idx("CMD clear_screen 0"), idx("GETFILE trial_1"))
	t.Log("✅ teardown order verified")
}

// failingCloseLink 关闭日志文件始终失败
type failingCloseLink struct {
	*devlink.FakeLink
}

func (l *failingCloseLink) CloseDataFile() error {
	return errors.New("device busy")
}

// TestTeardownCollectsErrors 某一步失败不中断收尾，错误全部收集
func TestTeardownCollectsErrors(t *testing.T) {
	inner := devlink.NewFakeLink()
	sess, clk := newSession(t, &failingCloseLink{FakeLink: inner})
	require.NoError(t, sess.OpenFile("trial_1"))

	pres, backend := newPresenter(t, clk)
	input := &releaseRecorder{err: errors.New("pointer restore failed")}

	td := &Teardown{
		Session:     sess,
		Presenter:   pres,
		Input:       input,
		TransferDir: t.TempDir(),
		RunID:       "test-run",
	}
	report := td.Run()

	// 关文件失败之后仍然清屏、仍然尝试取回、仍然释放一切
	assert.Contains(t, inner.Ops(), "CMD clear_screen 0")
	assert.Contains(t, inner.Ops(), "GETFILE trial_1")
	assert.False(t, backend.Opened())
	assert.True(t, input.released)

	require.Error(t, report.Err())
	assert.GreaterOrEqual(t, len(report.Errors), 2)
	assert.Equal(t, session.StateClosed, sess.State())
}

// TestTeardownAfterManualClose 会话已关闭时重复关闭不算收尾错误
func TestTeardownAfterManualClose(t *testing.T) {
	fake := devlink.NewFakeLink()
	sess, clk := newSession(t, fake)
	require.NoError(t, sess.OpenFile("trial_1"))
	require.NoError(t, sess.Close())

	pres, _ := newPresenter(t, clk)
	td := &Teardown{Session: sess, Presenter: pres, TransferDir: t.TempDir(), RunID: "test-run"}
	report := td.Run()

	assert.NoError(t, report.Err())
	assert.Equal(t, session.StateClosed, sess.State())
}

// TestTeardownDummySession 哑模式收尾：不碰设备端显示，无文件可取回
func TestTeardownDummySession(t *testing.T) {
	cfg := config.Default()
	cfg.Tracker.Dummy = true
	clk := clock.NewFake(time.Unix(3000, 0))
	sess := session.NewManager(devlink.NewFakeLink(), clk, cfg, "test-run")
	sess.SetEventLog(eventlog.New(sess, clk))
	require.NoError(t, sess.Connect(context.Background()))

	pres, _ := newPresenter(t, clk)
	input := &releaseRecorder{}
	td := &Teardown{Session: sess, Presenter: pres, Input: input, TransferDir: t.TempDir(), RunID: "test-run"}
	report := td.Run()

	require.NoError(t, report.Err())
	assert.Empty(t, report.TransferredPath)
	assert.True(t, input.released)
	assert.Equal(t, session.StateClosed, sess.State())
}
