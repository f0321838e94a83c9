package devlink

import "context"

// DummyLink 哑模式链路：无真实设备连接，所有操作为空操作。
// 用于纯展示测试——不落盘日志、不做真实记录
type DummyLink struct{}

// NewDummy 创建哑模式链路
func NewDummy() *DummyLink {
	return &DummyLink{}
}

func (*DummyLink) Connect(ctx context.Context) error { return nil }
func (*DummyLink) Connected() bool                   { return true }
func (*DummyLink) Dummy() bool                       { return true }
func (*DummyLink) Version() int                      { return 0 }
func (*DummyLink) VersionTag() string                { return "DUMMY" }

func (*DummyLink) SendCommand(cmd string) error                   { return nil }
func (*DummyLink) SendMessage(trackerMS int64, text string) error { return nil }

func (*DummyLink) OpenDataFile(name string) error { return nil }
func (*DummyLink) CloseDataFile() error           { return nil }
func (*DummyLink) StartRecording() error          { return nil }
func (*DummyLink) StopRecording() error           { return nil }

// Calibrate 哑模式下校准直接通过
func (*DummyLink) Calibrate(ctx context.Context, calType string) error { return nil }

// DriftCorrect 哑模式下校正总是通过，偏移为零
func (*DummyLink) DriftCorrect(ctx context.Context, x, y int) (*DriftResult, error) {
	return &DriftResult{OK: true}, nil
}

func (*DummyLink) TransferImage(name string, x, y, width, height int) error { return nil }

// ReceiveDataFile 哑模式下无文件可传
func (*DummyLink) ReceiveDataFile(name, localPath string) (int64, error) {
	return 0, ErrNoDataFile
}

func (*DummyLink) Ping() error  { return nil }
func (*DummyLink) Close() error { return nil }
