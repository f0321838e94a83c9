package replay

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"GazeTrialRunner/internal/clock"
)

// Entry 日志文件中的一条消息
type Entry struct {
	MS   int64  `json:"ms"`
	Text string `json:"text"`
}

// ParseLog 解析取回的会话日志流。只关心MSG行；
// 文件头（**）与记录起止标记行跳过
func ParseLog(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "**") || line == "START" || line == "END" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 3 || fields[0] != "MSG" {
			return nil, fmt.Errorf("line %d: unrecognized log line %q", lineNo, line)
		}
		ms, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad timestamp %q", lineNo, fields[1])
		}
		entries = append(entries, Entry{MS: ms, Text: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}
	return entries, nil
}

// ParseLogFile 从本地文件解析会话日志
func ParseLogFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	return ParseLog(f)
}

// TrialRecord 从消息语法重建出的一个试次
type TrialRecord struct {
	Index      int               `json:"index"`
	OnsetMS    int64             `json:"onset_ms"`
	EndMS      int64             `json:"end_ms"`
	ReactionMS int64             `json:"reaction_ms"`
	Result     int               `json:"result"`
	Complete   bool              `json:"complete"`
	Vars       map[string]string `json:"vars"`
	Areas      []string          `json:"areas"`
}

// Reconstruct 按消息语法重放日志，重建试次序列。
// 反应时同时从时间戳重算并与TRIAL_VAR rt交叉校验
func Reconstruct(entries []Entry) ([]*TrialRecord, error) {
	var trials []*TrialRecord
	var current *TrialRecord

	for i, e := range entries {
		fields := strings.Fields(e.Text)
		if len(fields) == 0 {
			continue
		}
		switch {
		case fields[0] == "TRIALID":
			if current != nil && !current.Complete {
				return nil, fmt.Errorf("entry %d: TRIALID before previous trial produced TRIAL_RESULT", i)
			}
			if len(fields) < 2 {
				return nil, fmt.Errorf("entry %d: bad trial index in %q", i, e.Text)
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("entry %d: bad trial index %q", i, fields[1])
			}
			current = &TrialRecord{Index: idx, Vars: make(map[string]string)}
			trials = append(trials, current)

		case fields[0] == "SYNCTIME":
			if current != nil {
				current.OnsetMS = e.MS
			}

		case fields[0] == "ENDBUTTON":
			if current != nil {
				current.EndMS = e.MS
				current.ReactionMS = e.MS - current.OnsetMS
			}

		case fields[0] == "TRIAL_RESULT":
			if current == nil {
				return nil, fmt.Errorf("entry %d: TRIAL_RESULT outside any trial", i)
			}
			if len(fields) < 2 {
				return nil, fmt.Errorf("entry %d: bad result code in %q", i, e.Text)
			}
			code, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("entry %d: bad result code %q", i, fields[1])
			}
			current.Result = code
			current.Complete = true

		case e.Text != "" && strings.HasPrefix(e.Text, "!V TRIAL_VAR "):
			if current != nil && len(fields) >= 4 {
				current.Vars[fields[2]] = strings.Join(fields[3:], " ")
			}

		case strings.HasPrefix(e.Text, "!V IAREA "):
			if current != nil {
				current.Areas = append(current.Areas, e.Text)
			}
		}
	}
	return trials, nil
}

// Issue 校验中发现的一个问题
type Issue struct {
	Entry  int    `json:"entry"`
	Reason string `json:"reason"`
}

// VerifyReport 日志校验结果
type VerifyReport struct {
	Entries int     `json:"entries"`
	Trials  int     `json:"trials"`
	Issues  []Issue `json:"issues"`
}

// Passed 返回是否全部通过
func (r *VerifyReport) Passed() bool {
	return len(r.Issues) == 0
}

// Verify 校验下游分析赖以成立的顺序不变量：时间戳单调不减、
// 试次序号从1起无缺口递增、每个试次都有结果标记
func Verify(entries []Entry) *VerifyReport {
	report := &VerifyReport{Entries: len(entries)}

	var lastMS int64
	for i, e := range entries {
		if e.MS < lastMS {
			report.Issues = append(report.Issues, Issue{
				Entry:  i,
				Reason: fmt.Sprintf("timestamp %d decreases below %d", e.MS, lastMS),
			})
		}
		lastMS = e.MS
	}

	trials, err := Reconstruct(entries)
	if err != nil {
		report.Issues = append(report.Issues, Issue{Reason: err.Error()})
		return report
	}
	report.Trials = len(trials)

	for i, t := range trials {
		if t.Index != i+1 {
			report.Issues = append(report.Issues, Issue{
				Reason: fmt.Sprintf("trial index %d at position %d breaks the 1..N sequence", t.Index, i),
			})
		}
		if !t.Complete {
			report.Issues = append(report.Issues, Issue{
				Reason: fmt.Sprintf("trial %d has no TRIAL_RESULT marker", t.Index),
			})
			continue
		}
		if t.OnsetMS == 0 {
			report.Issues = append(report.Issues, Issue{
				Reason: fmt.Sprintf("trial %d has no SYNCTIME onset", t.Index),
			})
		}
		if rt, ok := t.Vars["rt"]; ok {
			// 消息发送晚于呈现/输入时刻本身，允许毫秒级偏差
			if logged, err := strconv.ParseInt(rt, 10, 64); err == nil && abs(logged-t.ReactionMS) > 5 {
				report.Issues = append(report.Issues, Issue{
					Reason: fmt.Sprintf("trial %d: logged rt %d disagrees with timestamps (%d)", t.Index, logged, t.ReactionMS),
				})
			}
		}
	}
	return report
}

// abs 64位整数绝对值
func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Speed 回放速度。0表示瞬间回放，无延时
type Speed float64

const (
	SpeedInstant Speed = 0.0
	SpeedNormal  Speed = 1.0
	SpeedFast    Speed = 2.0
)

// Callback 回放回调
type Callback func(Entry) error

// Replay 按原始时间间隔回放日志条目
func Replay(clk clock.Clock, entries []Entry, speed Speed, cb Callback) error {
	var lastMS int64
	for i, e := range entries {
		if speed > 0 && i > 0 {
			delta := time.Duration(e.MS-lastMS) * time.Millisecond
			clk.Sleep(time.Duration(float64(delta) / float64(speed)))
		}
		lastMS = e.MS
		if err := cb(e); err != nil {
			return fmt.Errorf("replay callback at entry %d: %w", i, err)
		}
	}
	return nil
}
