package config

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager 配置管理器：加载YAML配置、环境变量覆盖、可选的文件监控热更新
type Manager struct {
	mu         sync.RWMutex
	cfg        *Config
	v          *viper.Viper
	configPath string
	watch      bool
	onChange   func(*Config)
}

// Option 配置管理器选项
type Option func(*Manager)

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) Option {
	return func(m *Manager) {
		m.configPath = path
	}
}

// WithWatch 启用配置文件监控
func WithWatch(enabled bool) Option {
	return func(m *Manager) {
		m.watch = enabled
	}
}

// WithOnChange 设置配置变更回调
func WithOnChange(fn func(*Config)) Option {
	return func(m *Manager) {
		m.onChange = fn
	}
}

// NewManager 创建配置管理器并完成首次加载
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{v: viper.New()}
	for _, opt := range opts {
		opt(m)
	}

	setDefaults(m.v)

	// 环境变量覆盖：GAZE_TRACKER_URL 等
	m.v.SetEnvPrefix("GAZE")
	m.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.v.AutomaticEnv()

	if m.configPath != "" {
		m.v.SetConfigFile(m.configPath)
		if err := m.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", m.configPath, err)
		}
	}

	if err := m.reload(); err != nil {
		return nil, err
	}

	if m.watch && m.configPath != "" {
		m.v.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("config file changed: %s", e.Name)
			if err := m.reload(); err != nil {
				log.Printf("config reload failed: %v", err)
				return
			}
			if m.onChange != nil {
				m.onChange(m.Get())
			}
		})
		m.v.WatchConfig()
	}

	return m, nil
}

// reload 重新反序列化并校验配置
func (m *Manager) reload() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	m.cfg = &cfg
	m.mu.Unlock()
	return nil
}

// Get 返回当前配置
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}
