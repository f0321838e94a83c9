package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 实验运行配置
type Config struct {
	Tracker TrackerConfig `yaml:"tracker" mapstructure:"tracker"`
	Display DisplayConfig `yaml:"display" mapstructure:"display"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Timing  TimingConfig  `yaml:"timing" mapstructure:"timing"`
	Policy  PolicyConfig  `yaml:"policy" mapstructure:"policy"`
	Results ResultsConfig `yaml:"results" mapstructure:"results"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor"`
}

// TrackerConfig 追踪主机链路配置
type TrackerConfig struct {
	URL              string        `yaml:"url" mapstructure:"url"`
	Dummy            bool          `yaml:"dummy" mapstructure:"dummy"` // 强制哑模式
	ConnectTimeout   time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	ConnectRetries   uint64        `yaml:"connect_retries" mapstructure:"connect_retries"`
	RetryInterval    time.Duration `yaml:"retry_interval" mapstructure:"retry_interval"`
	RetryMaxInterval time.Duration `yaml:"retry_max_interval" mapstructure:"retry_max_interval"`
	TransferRetries  uint64        `yaml:"transfer_retries" mapstructure:"transfer_retries"`
}

// DisplayConfig 显示配置
type DisplayConfig struct {
	Mode          int `yaml:"mode" mapstructure:"mode"`
	SurfaceIndex  int `yaml:"surface_index" mapstructure:"surface_index"`
	SecondSurface int `yaml:"second_surface" mapstructure:"second_surface"`
	Surfaces      int `yaml:"surfaces" mapstructure:"surfaces"` // 无头后端的显示面数量
	Width         int `yaml:"width" mapstructure:"width"`
	Height        int `yaml:"height" mapstructure:"height"`
	BackgroundR   int `yaml:"background_r" mapstructure:"background_r"`
	BackgroundG   int `yaml:"background_g" mapstructure:"background_g"`
	BackgroundB   int `yaml:"background_b" mapstructure:"background_b"`
}

// SessionConfig 会话配置
type SessionConfig struct {
	FileName        string `yaml:"file_name" mapstructure:"file_name"`
	CalibrationType string `yaml:"calibration_type" mapstructure:"calibration_type"`
	TransferDir     string `yaml:"transfer_dir" mapstructure:"transfer_dir"`
	AcceptButton    int    `yaml:"accept_button" mapstructure:"accept_button"`
}

// TimingConfig 协议延时。这些不是可有可无的调参——它们编码了真实的
// 设备协议约束（缓冲落盘、基线采样、突发发送丢失），属于顺序契约的一部分
type TimingConfig struct {
	RecordSettle time.Duration `yaml:"record_settle" mapstructure:"record_settle"` // 记录开始到呈现之间的基线延时
	StopSettle   time.Duration `yaml:"stop_settle" mapstructure:"stop_settle"`     // 停止记录前保留尾部采样的延时
	PostStop     time.Duration `yaml:"post_stop" mapstructure:"post_stop"`         // 停止记录后的短暂延时
	MessageGap   time.Duration `yaml:"message_gap" mapstructure:"message_gap"`     // 连续消息之间的防突发间隔
	CloseSettle  time.Duration `yaml:"close_settle" mapstructure:"close_settle"`   // 关闭日志文件前让设备端写缓冲落盘
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"` // 输入轮询的让出间隔
}

// PolicyConfig 失败策略
type PolicyConfig struct {
	// ImageTransferFatal 设备端背景图传送失败是否中止试次。
	// 默认按警告处理，试次继续
	ImageTransferFatal bool `yaml:"image_transfer_fatal" mapstructure:"image_transfer_fatal"`
}

// ResultsConfig 试次结果库配置（可选）
type ResultsConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	DBName   string `yaml:"dbname" mapstructure:"dbname"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
}

// MonitorConfig 操作员监视服务配置（可选）
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// setDefaults 写入全部默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("tracker.url", "ws://127.0.0.1:18200/tracker")
	v.SetDefault("tracker.dummy", false)
	v.SetDefault("tracker.connect_timeout", 5*time.Second)
	v.SetDefault("tracker.connect_retries", 3)
	v.SetDefault("tracker.retry_interval", 200*time.Millisecond)
	v.SetDefault("tracker.retry_max_interval", 2*time.Second)
	v.SetDefault("tracker.transfer_retries", 2)

	v.SetDefault("display.mode", 0)
	v.SetDefault("display.surface_index", -1)
	v.SetDefault("display.second_surface", -1)
	v.SetDefault("display.surfaces", 1)
	v.SetDefault("display.width", 1024)
	v.SetDefault("display.height", 768)
	v.SetDefault("display.background_r", 116)
	v.SetDefault("display.background_g", 116)
	v.SetDefault("display.background_b", 116)

	v.SetDefault("session.file_name", "trial")
	v.SetDefault("session.calibration_type", "HV9")
	v.SetDefault("session.transfer_dir", ".")
	v.SetDefault("session.accept_button", 5)

	v.SetDefault("timing.record_settle", 100*time.Millisecond)
	v.SetDefault("timing.stop_settle", 100*time.Millisecond)
	v.SetDefault("timing.post_stop", 50*time.Millisecond)
	v.SetDefault("timing.message_gap", 2*time.Millisecond)
	v.SetDefault("timing.close_settle", 500*time.Millisecond)
	v.SetDefault("timing.poll_interval", 10*time.Millisecond)

	v.SetDefault("policy.image_transfer_fatal", false)

	v.SetDefault("results.enabled", false)
	v.SetDefault("results.host", "localhost")
	v.SetDefault("results.port", 5432)
	v.SetDefault("results.user", "postgres")
	v.SetDefault("results.password", "")
	v.SetDefault("results.dbname", "gaze")
	v.SetDefault("results.sslmode", "disable")

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.addr", ":8099")
}

// Default 返回全默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate 检查配置一致性
func (c *Config) Validate() error {
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("invalid display size %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Timing.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.Timing.PollInterval)
	}
	if c.Session.CalibrationType == "" {
		return fmt.Errorf("calibration_type must not be empty")
	}
	return nil
}
