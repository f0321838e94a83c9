package session

// State 会话状态
type State int32

const (
	StateUninitialized State = iota
	StateConnected
	StateFileOpen
	StateCalibrated
	StateRecording
	StateIdle
	StateClosed
	StateAborted
)

// String 实现字符串接口
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateConnected:
		return "CONNECTED"
	case StateFileOpen:
		return "FILE_OPEN"
	case StateCalibrated:
		return "CALIBRATED"
	case StateRecording:
		return "RECORDING"
	case StateIdle:
		return "IDLE"
	case StateClosed:
		return "CLOSED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}
