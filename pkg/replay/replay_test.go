package replay

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GazeTrialRunner/internal/clock"
)

const sampleLog = `** DATA FILE trial_1
MSG 0 DISPLAY_COORDS 0 0 1023 767
MSG 10 TRIALID 1
START
MSG 120 SYNCTIME
MSG 122 !V CLEAR 116 116 116
MSG 124 !V IMGLOAD CENTER left.png 512 384
MSG 126 !V IAREA RECTANGLE 1 352 264 672 504 left.png
MSG 440 ENDBUTTON 5
MSG 550 !V TRIAL_VAR index 1
MSG 552 !V TRIAL_VAR left_image left.png
MSG 554 !V TRIAL_VAR rt 320
MSG 556 TRIAL_RESULT 0
END
MSG 600 TRIALID 2
MSG 700 SYNCTIME
MSG 950 ENDBUTTON 5
MSG 1060 !V TRIAL_VAR rt 250
MSG 1062 TRIAL_RESULT 0
`

// TestParseLog 解析跳过文件头与起止标记，只保留消息行
func TestParseLog(t *testing.T) {
	entries, err := ParseLog(strings.NewReader(sampleLog))
	require.NoError(t, err)
	require.Len(t, entries, 16)
	assert.Equal(t, int64(0), entries[0].MS)
	assert.Equal(t, "DISPLAY_COORDS 0 0 1023 767", entries[0].Text)
	assert.Equal(t, int64(1062), entries[len(entries)-1].MS)
}

// TestParseLogRejectsGarbage 无法识别的行是硬错误
func TestParseLogRejectsGarbage(t *testing.T) {
	_, err := ParseLog(strings.NewReader("MSG 10 TRIALID 1\nnot a log line\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = ParseLog(strings.NewReader("MSG abc TRIALID 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad timestamp")
}

// TestReconstruct 从消息语法重建试次：起止时刻、反应时、变量与兴趣区
func TestReconstruct(t *testing.T) {
	entries, err := ParseLog(strings.NewReader(sampleLog))
	require.NoError(t, err)

	trials, err := Reconstruct(entries)
	require.NoError(t, err)
	require.Len(t, trials, 2)

	first := trials[0]
	assert.Equal(t, 1, first.Index)
	assert.True(t, first.Complete)
	assert.Equal(t, int64(120), first.OnsetMS)
	assert.Equal(t, int64(440), first.EndMS)
	assert.Equal(t, int64(320), first.ReactionMS)
	assert.Equal(t, 0, first.Result)
	assert.Equal(t, "left.png", first.Vars["left_image"])
	require.Len(t, first.Areas, 1)
	assert.Contains(t, first.Areas[0], "IAREA RECTANGLE 1")

	second := trials[1]
	assert.Equal(t, 2, second.Index)
	assert.Equal(t, int64(250), second.ReactionMS)
}

// TestReconstructRejectsNestedTrial 前一个试次未出结果就开新试次是硬错误
func TestReconstructRejectsNestedTrial(t *testing.T) {
	entries := []Entry{
		{MS: 0, Text: "TRIALID 1"},
		{MS: 10, Text: "SYNCTIME"},
		{MS: 20, Text: "TRIALID 2"},
	}
	_, err := Reconstruct(entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRIALID before previous trial")
}

// TestReconstructRejectsTruncatedMarkers 缺少参数的标记行是硬错误而非崩溃
func TestReconstructRejectsTruncatedMarkers(t *testing.T) {
	entries, err := ParseLog(strings.NewReader("MSG 10 TRIALID\n"))
	require.NoError(t, err)
	_, err = Reconstruct(entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad trial index")

	entries = []Entry{
		{MS: 0, Text: "TRIALID 1"},
		{MS: 10, Text: "TRIAL_RESULT"},
	}
	_, err = Reconstruct(entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad result code")
}

// TestVerifyCleanLog 合规日志全部通过
func TestVerifyCleanLog(t *testing.T) {
	entries, err := ParseLog(strings.NewReader(sampleLog))
	require.NoError(t, err)

	report := Verify(entries)
	assert.True(t, report.Passed(), "issues: %v", report.Issues)
	assert.Equal(t, 2, report.Trials)
	t.Log("✅ log passes all ordering invariants")
}

// TestVerifyDetectsTimestampRegression 时间戳回退被标记
func TestVerifyDetectsTimestampRegression(t *testing.T) {
	entries := []Entry{
		{MS: 100, Text: "TRIALID 1"},
		{MS: 90, Text: "SYNCTIME"},
		{MS: 200, Text: "ENDBUTTON 5"},
		{MS: 210, Text: "TRIAL_RESULT 0"},
	}
	report := Verify(entries)
	require.False(t, report.Passed())
	assert.Contains(t, report.Issues[0].Reason, "decreases")
}

// TestVerifyDetectsIndexGap 试次序号缺口被标记
func TestVerifyDetectsIndexGap(t *testing.T) {
	entries := []Entry{
		{MS: 0, Text: "TRIALID 1"},
		{MS: 10, Text: "SYNCTIME"},
		{MS: 20, Text: "TRIAL_RESULT 0"},
		{MS: 30, Text: "TRIALID 3"},
		{MS: 40, Text: "SYNCTIME"},
		{MS: 50, Text: "TRIAL_RESULT 0"},
	}
	report := Verify(entries)
	require.False(t, report.Passed())
	assert.Contains(t, report.Issues[0].Reason, "breaks the 1..N sequence")
}

// TestVerifyDetectsMissingResult 缺失结果标记被标记
func TestVerifyDetectsMissingResult(t *testing.T) {
	entries := []Entry{
		{MS: 0, Text: "TRIALID 1"},
		{MS: 10, Text: "SYNCTIME"},
	}
	report := Verify(entries)
	require.False(t, report.Passed())
	assert.Contains(t, report.Issues[0].Reason, "no TRIAL_RESULT")
}

// TestVerifyCrossChecksReactionTime 记录的rt与时间戳差超容差被标记
func TestVerifyCrossChecksReactionTime(t *testing.T) {
	entries := []Entry{
		{MS: 0, Text: "TRIALID 1"},
		{MS: 100, Text: "SYNCTIME"},
		{MS: 400, Text: "ENDBUTTON 5"},
		{MS: 410, Text: "!V TRIAL_VAR rt 9999"},
		{MS: 412, Text: "TRIAL_RESULT 0"},
	}
	report := Verify(entries)
	require.False(t, report.Passed())
	assert.Contains(t, report.Issues[0].Reason, "disagrees")
}

// TestReplayTiming 回放按速度缩放原始时间间隔
func TestReplayTiming(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	entries := []Entry{
		{MS: 0, Text: "TRIALID 1"},
		{MS: 100, Text: "SYNCTIME"},
		{MS: 300, Text: "ENDBUTTON 5"},
	}

	var seen []string
	err := Replay(clk, entries, SpeedFast, func(e Entry) error {
		seen = append(seen, e.Text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"TRIALID 1", "SYNCTIME", "ENDBUTTON 5"}, seen)
	// 300ms的日志在2倍速下用时150ms
	assert.Equal(t, 150*time.Millisecond, clk.Now().Sub(time.Unix(0, 0)))
}

// TestReplayInstant 零速度回放不产生任何延时
func TestReplayInstant(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	entries := []Entry{{MS: 0, Text: "TRIALID 1"}, {MS: 5000, Text: "TRIAL_RESULT 0"}}

	count := 0
	err := Replay(clk, entries, SpeedInstant, func(e Entry) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, time.Unix(0, 0), clk.Now())
}
