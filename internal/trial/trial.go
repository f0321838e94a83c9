package trial

import (
	"time"

	"GazeTrialRunner/internal/display"
)

// TrialState 试次状态机状态
type TrialState int32

const (
	StateTrialStart TrialState = iota
	StateHostSetup
	StateDriftCorrect
	StateRecordStart
	StatePresenting
	StateWaitForInput
	StateRecordStop
	StateLogVariables
	StateTrialEnd
	StateAborted
)

// String 实现字符串接口
func (s TrialState) String() string {
	switch s {
	case StateTrialStart:
		return "TRIAL_START"
	case StateHostSetup:
		return "HOST_SETUP"
	case StateDriftCorrect:
		return "DRIFT_CORRECT"
	case StateRecordStart:
		return "RECORD_START"
	case StatePresenting:
		return "PRESENTING"
	case StateWaitForInput:
		return "WAIT_FOR_INPUT"
	case StateRecordStop:
		return "RECORD_STOP"
	case StateLogVariables:
		return "LOG_VARIABLES"
	case StateTrialEnd:
		return "TRIAL_END"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// ResultOK 正常完成的试次结果码
const ResultOK = 0

// Spec 一个试次的刺激对：左右眼资产及其像素几何
type Spec struct {
	Left  *display.ImageBuffer
	Right *display.ImageBuffer
}

// Trial 一个试次的完整记录。试次结束后不再变更，
// 之后只存在于只读的试次历史里
type Trial struct {
	Index      int       `json:"index"`
	LeftName   string    `json:"left_name"`
	RightName  string    `json:"right_name"`
	Onset      time.Time `json:"onset"` // 显示面翻转时刻
	End        time.Time `json:"end"`   // 结束输入时刻
	ReactionMS int64     `json:"reaction_ms"`
	Result     int       `json:"result"`
	Aborted    bool      `json:"aborted"`
}

// InputSource 试次结束输入的采集端。捕获的开启/恢复属于外部协作者，
// 这里只约定边界
type InputSource interface {
	// Engage 开启输入捕获（隐藏指针等），每次运行一次
	Engage() error
	// Arm 重置结束输入的判定基准，每个试次进入输入等待时调用一次
	Arm()
	// Poll 非阻塞检查结束输入，返回是否结束及按键编号
	Poll() (ended bool, button int)
	// Release 恢复输入捕获状态与指针可见性，可重复调用
	Release() error
}
