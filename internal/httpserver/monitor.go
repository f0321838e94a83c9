package httpserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"GazeTrialRunner/internal/logger"
	"GazeTrialRunner/internal/trial"
)

// Snapshot 运行状态快照，监视面板轮询用
type Snapshot struct {
	RunID        string         `json:"run_id"`
	SessionState string         `json:"session_state"`
	Dummy        bool           `json:"dummy"`
	TrialState   string         `json:"trial_state"`
	TrialsDone   int            `json:"trials_done"`
	MessageCount int            `json:"message_count"`
	Warnings     []string       `json:"warnings"`
	Trials       []*trial.Trial `json:"trials"`
}

// StatusSource 快照来源
type StatusSource interface {
	Snapshot() Snapshot
}

// Monitor 操作员监视HTTP服务：运行状态、试次进度、实时日志流
type Monitor struct {
	source      StatusSource
	broadcaster *logger.Broadcaster
	server      *http.Server
}

// NewMonitor 创建监视服务
func NewMonitor(addr string, source StatusSource, broadcaster *logger.Broadcaster) *Monitor {
	m := &Monitor{source: source, broadcaster: broadcaster}

	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	router := mux.NewRouter()
	router.MethodNotAllowedHandler = notAllowed
	api := router.PathPrefix("/api/v1").Subrouter()
	// 子路由不继承MethodNotAllowedHandler
	api.MethodNotAllowedHandler = notAllowed
	api.HandleFunc("/status", m.handleStatus).Methods("GET")
	api.HandleFunc("/trials", m.handleTrials).Methods("GET")
	router.HandleFunc("/healthz", m.handleHealth).Methods("GET")
	if broadcaster != nil {
		router.HandleFunc("/ws/logs", broadcaster.HandleWebSocket)
	}

	handler := cors.Default().Handler(router)
	m.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return m
}

// Handler 返回完整的HTTP处理器，测试与嵌入用
func (m *Monitor) Handler() http.Handler {
	return m.server.Handler
}

// Start 启动监视服务
func (m *Monitor) Start() {
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("monitor server error: %v", err)
		}
	}()
}

// Shutdown 停止监视服务
func (m *Monitor) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}

// handleStatus 返回运行状态快照
func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.source.Snapshot())
}

// handleTrials 返回已完成试次
func (m *Monitor) handleTrials(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.source.Snapshot().Trials)
}

// handleHealth 健康检查
func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// writeJSON 写JSON应答
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
