package devlink

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// FakeLink 进程内假链路，单元测试用：记录全部操作的程序顺序，
// 并支持注入连接失败、打开拒绝与链路失联
type FakeLink struct {
	mu sync.Mutex

	version    int
	versionTag string

	connectErr error
	rejectOpen string
	lost       bool
	connected  bool
	driftPass  bool

	ops       []string
	messages  []fakeMessage
	fileName  string
	fileOpen  bool
	recording bool
	recStarts int
	recStops  int
	closed    bool
}

// fakeMessage 收到的一条日志消息
type fakeMessage struct {
	MS   int64
	Text string
}

// NewFakeLink 创建假链路
func NewFakeLink() *FakeLink {
	return &FakeLink{version: 4, versionTag: "FAKETRACKER", driftPass: true}
}

// SetVersion 设置握手版本
func (f *FakeLink) SetVersion(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version = v
}

// FailConnect 注入连接失败
func (f *FakeLink) FailConnect(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// RejectOpen 注入日志文件创建拒绝
func (f *FakeLink) RejectOpen(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectOpen = reason
}

// SetDriftPass 设置漂移校正是否通过
func (f *FakeLink) SetDriftPass(pass bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.driftPass = pass
}

// SetLost 注入链路失联：此后所有调用失败，健康检查报Lost
func (f *FakeLink) SetLost() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lost = true
	f.connected = false
}

// Ops 返回操作日志副本
func (f *FakeLink) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.ops...)
}

// Messages 返回收到的日志消息文本
func (f *FakeLink) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.Text
	}
	return out
}

// MessageStamps 返回收到消息的毫秒时间戳
func (f *FakeLink) MessageStamps() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.MS
	}
	return out
}

// RecordingIntervals 返回完成的记录起停次数
func (f *FakeLink) RecordingIntervals() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recStops
}

// ConnectCalls 返回Connect被调用的次数
func (f *FakeLink) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, op := range f.ops {
		if op == "CONNECT" {
			n++
		}
	}
	return n
}

// FileOpenOnDevice 返回设备侧日志文件是否仍打开
func (f *FakeLink) FileOpenOnDevice() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fileOpen
}

// record 记录一次操作，失联时返回错误
func (f *FakeLink) record(op string) error {
	f.ops = append(f.ops, op)
	if f.lost {
		return ErrLinkLost
	}
	return nil
}

func (f *FakeLink) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "CONNECT")
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *FakeLink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected && !f.lost
}

func (f *FakeLink) Dummy() bool        { return false }
func (f *FakeLink) Version() int       { f.mu.Lock(); defer f.mu.Unlock(); return f.version }
func (f *FakeLink) VersionTag() string { f.mu.Lock(); defer f.mu.Unlock(); return f.versionTag }

func (f *FakeLink) SendCommand(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("CMD " + cmd)
}

func (f *FakeLink) SendMessage(trackerMS int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("MSG " + text); err != nil {
		return err
	}
	f.messages = append(f.messages, fakeMessage{MS: trackerMS, Text: text})
	return nil
}

func (f *FakeLink) OpenDataFile(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("OPEN " + name); err != nil {
		return err
	}
	if f.rejectOpen != "" {
		return fmt.Errorf("device rejected request: %s", f.rejectOpen)
	}
	f.fileName = name
	f.fileOpen = true
	return nil
}

func (f *FakeLink) CloseDataFile() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CLOSEFILE"); err != nil {
		return err
	}
	f.fileOpen = false
	return nil
}

func (f *FakeLink) StartRecording() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RECSTART"); err != nil {
		return err
	}
	f.recording = true
	f.recStarts++
	return nil
}

func (f *FakeLink) StopRecording() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RECSTOP"); err != nil {
		return err
	}
	f.recording = false
	f.recStops++
	return nil
}

func (f *FakeLink) Calibrate(ctx context.Context, calType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("CAL " + calType)
}

func (f *FakeLink) DriftCorrect(ctx context.Context, x, y int) (*DriftResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(fmt.Sprintf("DRIFT %d %d", x, y)); err != nil {
		return nil, err
	}
	return &DriftResult{OK: f.driftPass}, nil
}

func (f *FakeLink) TransferImage(name string, x, y, width, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(fmt.Sprintf("IMG %s %d %d %d %d", name, x, y, width, height))
}

func (f *FakeLink) ReceiveDataFile(name, localPath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GETFILE " + name); err != nil {
		return 0, err
	}
	if f.fileOpen {
		return 0, fmt.Errorf("file %s still open", name)
	}

	var b strings.Builder
	b.WriteString("** DATA FILE " + name + "\n")
	for _, m := range f.messages {
		fmt.Fprintf(&b, "MSG %d %s\n", m.MS, m.Text)
	}
	content := []byte(b.String())
	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return 0, err
	}
	return int64(len(content)), nil
}

func (f *FakeLink) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("PING")
}

func (f *FakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}
