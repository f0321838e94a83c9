package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GazeTrialRunner/internal/clock"
)

// recordingSink 记录收到的消息
type recordingSink struct {
	stamps []int64
	texts  []string
}

func (s *recordingSink) SendMessage(trackerMS int64, text string) error {
	s.stamps = append(s.stamps, trackerMS)
	s.texts = append(s.texts, text)
	return nil
}

// TestSendBeforeFileOpenPanics 未到FileOpen就发送属于编程错误
func TestSendBeforeFileOpenPanics(t *testing.T) {
	l := New(&recordingSink{}, clock.NewFake(time.Unix(1000, 0)))

	assert.Panics(t, func() {
		l.Send(TagTrialID, "TRIALID 1")
	})
}

// TestMessageGrammar 校验各标记的单行结构化文本
func TestMessageGrammar(t *testing.T) {
	sink := &recordingSink{}
	clk := clock.NewFake(time.Unix(1000, 0))
	l := New(sink, clk)
	l.Open(clk.Now())

	require.NoError(t, l.DisplayCoords(1024, 768))
	require.NoError(t, l.TrialStart(3))
	require.NoError(t, l.ClearBackdrop(116, 116, 116))
	require.NoError(t, l.StimulusOnset())
	require.NoError(t, l.BackdropImage("stim01_l.png", 512, 384))
	require.NoError(t, l.InterestArea(1, 352, 264, 672, 504, "stim01_l.png"))
	require.NoError(t, l.EndButton(5))
	require.NoError(t, l.TrialVar("rt", int64(642)))
	require.NoError(t, l.TrialResult(0))

	assert.Equal(t, []string{
		"DISPLAY_COORDS 0 0 1023 767",
		"TRIALID 3",
		"!V CLEAR 116 116 116",
		"SYNCTIME",
		"!V IMGLOAD CENTER stim01_l.png 512 384",
		"!V IAREA RECTANGLE 1 352 264 672 504 stim01_l.png",
		"ENDBUTTON 5",
		"!V TRIAL_VAR rt 642",
		"TRIAL_RESULT 0",
	}, sink.texts)
}

// TestTimestampsNonDecreasing 时间戳在发送顺序上单调不减
func TestTimestampsNonDecreasing(t *testing.T) {
	sink := &recordingSink{}
	clk := clock.NewFake(time.Unix(1000, 0))
	l := New(sink, clk)
	l.Open(clk.Now())

	require.NoError(t, l.TrialStart(1))
	clk.Advance(5 * time.Millisecond)
	require.NoError(t, l.StimulusOnset())
	clk.Advance(250 * time.Millisecond)
	require.NoError(t, l.EndButton(5))

	require.Len(t, sink.stamps, 3)
	for i := 1; i < len(sink.stamps); i++ {
		assert.GreaterOrEqual(t, sink.stamps[i], sink.stamps[i-1])
	}
	assert.Equal(t, int64(0), sink.stamps[0])
	assert.Equal(t, int64(5), sink.stamps[1])
	assert.Equal(t, int64(255), sink.stamps[2])

	// 发送副本与下游一致且追加有序
	msgs := l.Messages()
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
		assert.Equal(t, sink.texts[i], m.Text)
	}
}

// TestClockRewindClamped 时钟回拨时钳制到上一条时间戳
func TestClockRewindClamped(t *testing.T) {
	sink := &recordingSink{}
	clk := clock.NewFake(time.Unix(1000, 0))
	l := New(sink, clk)
	l.Open(clk.Now())

	clk.Advance(100 * time.Millisecond)
	require.NoError(t, l.TrialStart(1))
	clk.Advance(-30 * time.Millisecond)
	require.NoError(t, l.StimulusOnset())

	assert.Equal(t, sink.stamps[0], sink.stamps[1])
}
