package eventlog

import (
	"fmt"
	"sync"
	"time"

	"GazeTrialRunner/internal/clock"
)

// Sink 消息下游：设备链路的日志写入端
type Sink interface {
	SendMessage(trackerMS int64, text string) error
}

// SinkFunc 函数适配器
type SinkFunc func(trackerMS int64, text string) error

// SendMessage 实现Sink接口
func (f SinkFunc) SendMessage(trackerMS int64, text string) error {
	return f(trackerMS, text)
}

// Logger 事件日志器。把带时间戳的协议消息按程序顺序追加到设备日志流，
// 不做批处理、不做合并——下游回放工具依赖严格的时间顺序解读。
// 会话未到FileOpen前调用Send属于编程错误，直接panic
type Logger struct {
	sink  Sink
	clock clock.Clock

	mu       sync.Mutex
	epoch    time.Time
	lastMS   int64
	seq      int64
	open     bool
	messages []Message
}

// New 创建事件日志器
func New(sink Sink, clk clock.Clock) *Logger {
	return &Logger{
		sink:     sink,
		clock:    clk,
		messages: make([]Message, 0, 256),
	}
}

// Open 激活日志器。由SessionManager在日志文件创建成功后调用，
// epoch作为追踪器毫秒时间戳的零点
func (l *Logger) Open(epoch time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch = epoch
	l.open = true
}

// Opened 返回日志器是否已激活
func (l *Logger) Opened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Send 追加一条消息，时间戳在此刻捕获
func (l *Logger) Send(tag Tag, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		panic(fmt.Sprintf("eventlog: Send(%s) before session reached FileOpen", tag))
	}

	now := l.clock.Now()
	ms := now.Sub(l.epoch).Milliseconds()
	// 单调性保护：时钟回拨时钳制到上一条的时间戳
	if ms < l.lastMS {
		ms = l.lastMS
	}

	if err := l.sink.SendMessage(ms, text); err != nil {
		return fmt.Errorf("send message %q: %w", text, err)
	}

	l.lastMS = ms
	l.seq++
	l.messages = append(l.messages, Message{
		Seq:       l.seq,
		TrackerMS: ms,
		Time:      now,
		Tag:       tag,
		Text:      text,
	})
	return nil
}

// Messages 返回已发送消息的只读副本
func (l *Logger) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message{}, l.messages...)
}

// Count 返回已发送消息数
func (l *Logger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// 以下为消息语法的便捷构造，一条一行结构化文本

// DisplayCoords 发送显示坐标系前导消息
func (l *Logger) DisplayCoords(width, height int) error {
	return l.Send(TagDisplayCoords, fmt.Sprintf("DISPLAY_COORDS 0 0 %d %d", width-1, height-1))
}

// TrialStart 发送试次开始标记
func (l *Logger) TrialStart(index int) error {
	return l.Send(TagTrialID, fmt.Sprintf("TRIALID %d", index))
}

// ClearBackdrop 发送空白背景标记
func (l *Logger) ClearBackdrop(r, g, b int) error {
	return l.Send(TagClear, fmt.Sprintf("!V CLEAR %d %d %d", r, g, b))
}

// StimulusOnset 发送刺激呈现起始标记
func (l *Logger) StimulusOnset() error {
	return l.Send(TagSyncTime, "SYNCTIME")
}

// BackdropImage 发送背景图加载标记，坐标为图像中心
func (l *Logger) BackdropImage(name string, centerX, centerY int) error {
	return l.Send(TagImgLoad, fmt.Sprintf("!V IMGLOAD CENTER %s %d %d", name, centerX, centerY))
}

// InterestArea 发送兴趣区标记
func (l *Logger) InterestArea(id, x1, y1, x2, y2 int, label string) error {
	return l.Send(TagIArea, fmt.Sprintf("!V IAREA RECTANGLE %d %d %d %d %d %s", id, x1, y1, x2, y2, label))
}

// EndButton 发送等待结束标记
func (l *Logger) EndButton(button int) error {
	return l.Send(TagEndButton, fmt.Sprintf("ENDBUTTON %d", button))
}

// TrialVar 发送单个试次变量标记
func (l *Logger) TrialVar(name string, value interface{}) error {
	return l.Send(TagTrialVar, fmt.Sprintf("!V TRIAL_VAR %s %v", name, value))
}

// TrialResult 发送试次结果标记
func (l *Logger) TrialResult(code int) error {
	return l.Send(TagTrialResult, fmt.Sprintf("TRIAL_RESULT %d", code))
}
