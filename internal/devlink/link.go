package devlink

import (
	"context"
	"errors"
)

var (
	ErrNotConnected         = errors.New("device link not connected")
	ErrLinkLost             = errors.New("device link lost")
	ErrCalibrationCancelled = errors.New("calibration cancelled by operator")
	ErrNoDataFile           = errors.New("no data file open on device")
)

// DriftResult 漂移校正结果。OK为false表示校正未通过，但链路本身仍然可用
type DriftResult struct {
	OK   bool
	XOff float64
	YOff float64
}

// Link 追踪设备链路接口。除Connect外所有调用都要求链路已建立；
// 阻塞式的操作员交互（校准、漂移校正）接受context以便设定超时
type Link interface {
	// Connect 建立到追踪主机的连接并完成版本握手
	Connect(ctx context.Context) error
	// Connected 返回链路当前是否可用
	Connected() bool
	// Dummy 返回是否为哑模式链路（无真实设备）
	Dummy() bool
	// Version 返回握手得到的设备软件版本号
	Version() int
	// VersionTag 返回握手得到的设备版本描述
	VersionTag() string

	// SendCommand 发送一条配置/控制命令并等待确认
	SendCommand(cmd string) error
	// SendMessage 向设备日志追加一条带毫秒时间戳的消息
	SendMessage(trackerMS int64, text string) error

	// OpenDataFile 在设备上创建日志文件
	OpenDataFile(name string) error
	// CloseDataFile 关闭设备上的日志文件
	CloseDataFile() error
	// StartRecording 开始采样记录
	StartRecording() error
	// StopRecording 停止采样记录
	StopRecording() error

	// Calibrate 运行指定类型的校准，阻塞至操作员完成或取消
	Calibrate(ctx context.Context, calType string) error
	// DriftCorrect 在给定目标点运行漂移校正，阻塞至完成
	DriftCorrect(ctx context.Context, x, y int) (*DriftResult, error)
	// TransferImage 向设备端显示传送定位背景图（操作员监视用）
	TransferImage(name string, x, y, width, height int) error

	// ReceiveDataFile 将已关闭的设备日志文件取回到本地路径，返回字节数
	ReceiveDataFile(name, localPath string) (int64, error)

	// Ping 链路健康探测
	Ping() error
	// Close 断开链路，可重复调用
	Close() error
}
