package logger

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LogMessage 操作员日志消息结构
type LogMessage struct {
	Level     string    `json:"level"`
	Module    string    `json:"module"`
	Message   string    `json:"message"`
	RunID     string    `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster WebSocket操作员日志广播器，为监视面板提供实时日志流
type Broadcaster struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan LogMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewBroadcaster 创建日志广播器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan LogMessage, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run 启动广播循环
func (b *Broadcaster) Run() {
	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				client.Close()
			}
			b.mu.Unlock()

		case msg := <-b.broadcast:
			b.mu.Lock()
			for client := range b.clients {
				if err := client.WriteJSON(msg); err != nil {
					delete(b.clients, client)
					client.Close()
				}
			}
			b.mu.Unlock()
		}
	}
}

// emit 写控制台并广播
func (b *Broadcaster) emit(level, module, message, runID string) {
	msg := LogMessage{
		Level:     level,
		Module:    module,
		Message:   message,
		RunID:     runID,
		Timestamp: time.Now(),
	}

	if runID != "" {
		log.Printf("[%s] [%s] %s: %s", level, runID, module, message)
	} else {
		log.Printf("[%s] %s: %s", level, module, message)
	}

	select {
	case b.broadcast <- msg:
	default:
		// 通道满时丢弃，避免阻塞实验主循环
	}
}

// Info 记录信息日志
func (b *Broadcaster) Info(module, message, runID string) {
	b.emit("INFO", module, message, runID)
}

// Warning 记录警告日志
func (b *Broadcaster) Warning(module, message, runID string) {
	b.emit("WARNING", module, message, runID)
}

// Error 记录错误日志
func (b *Broadcaster) Error(module, message, runID string) {
	b.emit("ERROR", module, message, runID)
}

// Success 记录成功日志
func (b *Broadcaster) Success(module, message, runID string) {
	b.emit("SUCCESS", module, message, runID)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 监视面板可能来自任意来源
	},
}

// HandleWebSocket 处理监视面板的WebSocket接入
func (b *Broadcaster) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	b.register <- conn
	defer func() {
		b.unregister <- conn
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// 全局广播器实例
var Global *Broadcaster

// InitGlobal 初始化全局广播器
func InitGlobal() {
	Global = NewBroadcaster()
	go Global.Run()
}

// 便捷函数，Global未初始化时仅写控制台

func Info(module, message, runID string) {
	if Global != nil {
		Global.Info(module, message, runID)
		return
	}
	log.Printf("[INFO] %s: %s", module, message)
}

func Warning(module, message, runID string) {
	if Global != nil {
		Global.Warning(module, message, runID)
		return
	}
	log.Printf("[WARNING] %s: %s", module, message)
}

func Error(module, message, runID string) {
	if Global != nil {
		Global.Error(module, message, runID)
		return
	}
	log.Printf("[ERROR] %s: %s", module, message)
}

func Success(module, message, runID string) {
	if Global != nil {
		Global.Success(module, message, runID)
		return
	}
	log.Printf("[SUCCESS] %s: %s", module, message)
}
