package devlink

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig WebSocket链路配置
type WSConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration // 普通请求的应答超时
	BlockingTimeout  time.Duration // 校准/漂移校正等操作员交互的应答超时
}

// DefaultWSConfig 返回默认配置
func DefaultWSConfig(url string) *WSConfig {
	return &WSConfig{
		URL:              url,
		HandshakeTimeout: 5 * time.Second,
		RequestTimeout:   3 * time.Second,
		BlockingTimeout:  5 * time.Minute,
	}
}

// WSLink 基于WebSocket的设备链路实现，单行文本请求/应答协议
type WSLink struct {
	config *WSConfig
	dialer *websocket.Dialer
	conn   *websocket.Conn

	// 请求/应答串行化
	mu sync.Mutex

	connected  atomic.Bool
	version    int
	versionTag string
}

// NewWSLink 创建WebSocket链路
func NewWSLink(config *WSConfig) *WSLink {
	if config == nil {
		panic("config cannot be nil")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout

	return &WSLink{
		config: config,
		dialer: &dialer,
	}
}

// Connect 建立连接并读取HELLO握手行
func (l *WSLink) Connect(ctx context.Context) error {
	conn, resp, err := l.dialer.DialContext(ctx, l.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial tracker host: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	conn.SetReadDeadline(time.Now().Add(l.config.RequestTimeout))
	_, line, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("read handshake: %w", err)
	}

	fields := strings.Fields(string(line))
	if len(fields) < 2 || fields[0] != ReplyHello {
		conn.Close()
		return fmt.Errorf("unexpected handshake %q", string(line))
	}
	version, err := strconv.Atoi(fields[1])
	if err != nil {
		conn.Close()
		return fmt.Errorf("bad version in handshake %q", string(line))
	}

	l.mu.Lock()
	l.conn = conn
	l.version = version
	l.versionTag = strings.Join(fields[2:], " ")
	l.mu.Unlock()
	l.connected.Store(true)
	return nil
}

// Connected 返回链路是否可用
func (l *WSLink) Connected() bool {
	return l.connected.Load()
}

// Dummy WebSocket链路永远不是哑模式
func (l *WSLink) Dummy() bool {
	return false
}

// Version 返回设备软件版本号
func (l *WSLink) Version() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// VersionTag 返回设备版本描述
func (l *WSLink) VersionTag() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.versionTag
}

// request 发送一行请求并读取一行应答。链路错误会将connected置为false
func (l *WSLink) request(timeout time.Duration, line string) (string, error) {
	if !l.connected.Load() {
		return "", ErrNotConnected
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	conn := l.conn
	if conn == nil {
		return "", ErrNotConnected
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		l.markLost()
		return "", fmt.Errorf("%w: %v", ErrLinkLost, err)
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		l.markLost()
		return "", fmt.Errorf("%w: %v", ErrLinkLost, err)
	}
	return string(reply), nil
}

// markLost 标记链路丢失，调用方需持有mu
func (l *WSLink) markLost() {
	l.connected.Store(false)
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// expectOK 解析应答，要求OK
func expectOK(reply string) error {
	if strings.HasPrefix(reply, ReplyOK) {
		return nil
	}
	if strings.HasPrefix(reply, ReplyErr) {
		return fmt.Errorf("device rejected request: %s", strings.TrimSpace(strings.TrimPrefix(reply, ReplyErr)))
	}
	return fmt.Errorf("unexpected reply %q", reply)
}

// SendCommand 发送配置/控制命令
func (l *WSLink) SendCommand(cmd string) error {
	reply, err := l.request(l.config.RequestTimeout, VerbCommand+" "+cmd)
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// SendMessage 追加一条日志消息
func (l *WSLink) SendMessage(trackerMS int64, text string) error {
	reply, err := l.request(l.config.RequestTimeout, fmt.Sprintf("%s %d %s", VerbMessage, trackerMS, text))
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// OpenDataFile 在设备上创建日志文件
func (l *WSLink) OpenDataFile(name string) error {
	reply, err := l.request(l.config.RequestTimeout, VerbOpen+" "+name)
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// CloseDataFile 关闭设备上的日志文件
func (l *WSLink) CloseDataFile() error {
	reply, err := l.request(l.config.RequestTimeout, VerbCloseFile)
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// StartRecording 开始采样记录
func (l *WSLink) StartRecording() error {
	reply, err := l.request(l.config.RequestTimeout, VerbRecStart)
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// StopRecording 停止采样记录
func (l *WSLink) StopRecording() error {
	reply, err := l.request(l.config.RequestTimeout, VerbRecStop)
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// Calibrate 运行校准，阻塞至操作员完成或取消
func (l *WSLink) Calibrate(ctx context.Context, calType string) error {
	reply, err := l.request(l.blockingTimeout(ctx), VerbCalibrate+" "+calType)
	if err != nil {
		return err
	}
	if strings.HasPrefix(reply, ReplyErr) {
		return ErrCalibrationCancelled
	}
	return expectOK(reply)
}

// DriftCorrect 在目标点运行漂移校正
func (l *WSLink) DriftCorrect(ctx context.Context, x, y int) (*DriftResult, error) {
	reply, err := l.request(l.blockingTimeout(ctx), fmt.Sprintf("%s %d %d", VerbDrift, x, y))
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(reply, ReplyErr) {
		return &DriftResult{OK: false}, nil
	}

	result := &DriftResult{OK: true}
	fields := strings.Fields(reply)
	if len(fields) >= 3 {
		result.XOff, _ = strconv.ParseFloat(fields[1], 64)
		result.YOff, _ = strconv.ParseFloat(fields[2], 64)
	}
	return result, nil
}

// blockingTimeout 取context截止时间与配置超时中较近者
func (l *WSLink) blockingTimeout(ctx context.Context) time.Duration {
	timeout := l.config.BlockingTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remain := time.Until(deadline); remain < timeout {
			timeout = remain
		}
	}
	return timeout
}

// TransferImage 向设备端显示传送背景图
func (l *WSLink) TransferImage(name string, x, y, width, height int) error {
	reply, err := l.request(l.config.RequestTimeout, fmt.Sprintf("%s %s %d %d %d %d", VerbImage, name, x, y, width, height))
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// ReceiveDataFile 取回设备日志文件，写入本地路径
func (l *WSLink) ReceiveDataFile(name, localPath string) (int64, error) {
	if !l.connected.Load() {
		return 0, ErrNotConnected
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	conn := l.conn
	if conn == nil {
		return 0, ErrNotConnected
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(VerbGetFile+" "+name)); err != nil {
		l.markLost()
		return 0, fmt.Errorf("%w: %v", ErrLinkLost, err)
	}

	conn.SetReadDeadline(time.Now().Add(l.config.RequestTimeout))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		l.markLost()
		return 0, fmt.Errorf("%w: %v", ErrLinkLost, err)
	}

	line := string(reply)
	if strings.HasPrefix(line, ReplyErr) {
		return 0, fmt.Errorf("device rejected transfer: %s", strings.TrimSpace(strings.TrimPrefix(line, ReplyErr)))
	}
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != ReplyFile {
		return 0, fmt.Errorf("unexpected transfer reply %q", line)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad size in transfer reply %q", line)
	}

	conn.SetReadDeadline(time.Now().Add(l.config.RequestTimeout))
	_, content, err := conn.ReadMessage()
	if err != nil {
		l.markLost()
		return 0, fmt.Errorf("%w: %v", ErrLinkLost, err)
	}
	if int64(len(content)) != size {
		return 0, fmt.Errorf("transfer size mismatch: announced %d, got %d", size, len(content))
	}

	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return 0, fmt.Errorf("write local file: %w", err)
	}
	return size, nil
}

// Ping 链路健康探测
func (l *WSLink) Ping() error {
	reply, err := l.request(l.config.RequestTimeout, VerbPing)
	if err != nil {
		return err
	}
	return expectOK(reply)
}

// Close 断开链路，可重复调用
func (l *WSLink) Close() error {
	if !l.connected.Swap(false) {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	l.conn.WriteMessage(websocket.TextMessage, []byte(VerbBye))
	err := l.conn.Close()
	l.conn = nil
	return err
}
