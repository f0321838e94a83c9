package testdevice

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"GazeTrialRunner/internal/devlink"
)

// Config 模拟追踪主机配置
type Config struct {
	Addr       string
	Path       string
	Version    int    // 握手上报的设备软件版本
	VersionTag string // 握手上报的版本描述
	DriftPass  bool   // 漂移校正是否通过
	CancelCal  bool   // 校准是否被"操作员"取消
	RejectOpen string // 非空时拒绝OPEN并返回该原因
}

// DefaultConfig 返回默认配置
func DefaultConfig(addr string) *Config {
	return &Config{
		Addr:       addr,
		Path:       "/tracker",
		Version:    4,
		VersionTag: "SIMTRACKER 1.0",
		DriftPass:  true,
	}
}

// LogEntry 设备日志中的一条消息
type LogEntry struct {
	MS   int64
	Text string
}

// Tracker 模拟追踪主机。实现设备线协议的另一端：记录收到的全部命令与
// 消息（保持到达顺序）、维护日志文件缓冲、提供文件取回，并支持注入链路
// 失联以测试应急收尾
type Tracker struct {
	config   *Config
	server   *http.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[*websocket.Conn]struct{}
	commands  []string
	messages  []LogEntry
	fileName  string
	fileOpen  bool
	recording bool
	recCount  int
	fileLines []string
	closed    map[string][]byte

	dropped atomic.Bool
	started time.Time
}

// New 创建模拟追踪主机
func New(config *Config) *Tracker {
	return &Tracker{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:  make(map[*websocket.Conn]struct{}),
		closed: make(map[string][]byte),
	}
}

// Start 启动服务
func (t *Tracker) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(t.config.Path, t.handleWS)

	t.started = time.Now()

	ln, err := newListener(t.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.config.Addr, err)
	}
	// 支持":0"随机端口，URL在Start之后才可用
	t.config.Addr = ln.Addr().String()
	t.server = &http.Server{Addr: t.config.Addr, Handler: mux}
	go func() {
		if serr := t.server.Serve(ln); serr != nil && serr != http.ErrServerClosed {
			log.Printf("tracker sim serve error: %v", serr)
		}
	}()
	return nil
}

// Shutdown 停止服务
func (t *Tracker) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

// URL 返回可供链路连接的WebSocket地址
func (t *Tracker) URL() string {
	return "ws://" + t.config.Addr + t.config.Path
}

// DropLink 注入链路失联：强制关闭全部连接，后续请求全部失败
func (t *Tracker) DropLink() {
	t.dropped.Store(true)
	t.mu.Lock()
	defer t.mu.Unlock()
	for conn := range t.conns {
		conn.Close()
	}
}

// Commands 返回收到的全部命令（到达顺序）
func (t *Tracker) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.commands...)
}

// Messages 返回收到的全部日志消息（到达顺序）
func (t *Tracker) Messages() []LogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]LogEntry{}, t.messages...)
}

// RecordingIntervals 返回已发生的记录起停次数
func (t *Tracker) RecordingIntervals() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recCount
}

// FileOpen 返回设备上是否仍有打开的日志文件
func (t *Tracker) FileOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fileOpen
}

// ClosedFile 返回已关闭日志文件的内容
func (t *Tracker) ClosedFile(name string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	content, ok := t.closed[name]
	return content, ok
}

// handleWS 处理一条链路连接
func (t *Tracker) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if t.dropped.Load() {
		return
	}

	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.conns, conn)
		t.mu.Unlock()
	}()

	hello := fmt.Sprintf("%s %d %s", devlink.ReplyHello, t.config.Version, t.config.VersionTag)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(hello)); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if t.dropped.Load() {
			return
		}
		reply, fileContent, bye := t.dispatch(string(data))
		if bye {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			return
		}
		if fileContent != nil {
			if err := conn.WriteMessage(websocket.BinaryMessage, fileContent); err != nil {
				return
			}
		}
	}
}

// dispatch 处理一条请求，返回应答行、可选的文件内容、是否结束连接
func (t *Tracker) dispatch(line string) (string, []byte, bool) {
	verb, rest, _ := strings.Cut(line, " ")

	t.mu.Lock()
	defer t.mu.Unlock()

	switch verb {
	case devlink.VerbPing:
		return devlink.ReplyOK, nil, false

	case devlink.VerbOpen:
		if t.config.RejectOpen != "" {
			return devlink.ReplyErr + " " + t.config.RejectOpen, nil, false
		}
		if t.fileOpen {
			return devlink.ReplyErr + " file already open", nil, false
		}
		t.fileName = rest
		t.fileOpen = true
		t.fileLines = []string{"** DATA FILE " + rest}
		return devlink.ReplyOK, nil, false

	case devlink.VerbCloseFile:
		if !t.fileOpen {
			return devlink.ReplyErr + " no file open", nil, false
		}
		t.fileOpen = false
		t.closed[t.fileName] = []byte(strings.Join(t.fileLines, "\n") + "\n")
		return devlink.ReplyOK, nil, false

	case devlink.VerbCommand:
		t.commands = append(t.commands, rest)
		return devlink.ReplyOK, nil, false

	case devlink.VerbMessage:
		msField, text, ok := strings.Cut(rest, " ")
		if !ok {
			return devlink.ReplyErr + " malformed message", nil, false
		}
		var ms int64
		fmt.Sscanf(msField, "%d", &ms)
		t.messages = append(t.messages, LogEntry{MS: ms, Text: text})
		if t.fileOpen {
			t.fileLines = append(t.fileLines, fmt.Sprintf("MSG %d %s", ms, text))
		}
		return devlink.ReplyOK, nil, false

	case devlink.VerbRecStart:
		if t.recording {
			return devlink.ReplyErr + " already recording", nil, false
		}
		t.recording = true
		if t.fileOpen {
			t.fileLines = append(t.fileLines, "START")
		}
		return devlink.ReplyOK, nil, false

	case devlink.VerbRecStop:
		if !t.recording {
			return devlink.ReplyErr + " not recording", nil, false
		}
		t.recording = false
		t.recCount++
		if t.fileOpen {
			t.fileLines = append(t.fileLines, "END")
		}
		return devlink.ReplyOK, nil, false

	case devlink.VerbCalibrate:
		if t.config.CancelCal {
			return devlink.ReplyErr + " cancelled", nil, false
		}
		return devlink.ReplyOK, nil, false

	case devlink.VerbDrift:
		if !t.config.DriftPass {
			return devlink.ReplyErr + " drift check failed", nil, false
		}
		return devlink.ReplyOK + " 0.4 -0.2", nil, false

	case devlink.VerbImage:
		t.commands = append(t.commands, "IMG "+rest)
		return devlink.ReplyOK, nil, false

	case devlink.VerbGetFile:
		content, ok := t.closed[rest]
		if !ok {
			return devlink.ReplyErr + " no such file", nil, false
		}
		return fmt.Sprintf("%s %d", devlink.ReplyFile, len(content)), content, false

	case devlink.VerbBye:
		return "", nil, true

	default:
		return devlink.ReplyErr + " unknown verb", nil, false
	}
}
