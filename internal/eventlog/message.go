package eventlog

import "time"

// Tag 消息标记类型
type Tag string

const (
	TagDisplayCoords Tag = "DISPLAY_COORDS" // 显示坐标系前导消息
	TagTrialID       Tag = "TRIALID"        // 试次开始标记
	TagClear         Tag = "CLEAR"          // 空白背景标记（RGB三元组）
	TagSyncTime      Tag = "SYNCTIME"       // 刺激呈现起始标记
	TagImgLoad       Tag = "IMGLOAD"        // 背景图加载标记（名称+中心坐标）
	TagIArea         Tag = "IAREA"          // 兴趣区标记（矩形+编号+标签）
	TagEndButton     Tag = "ENDBUTTON"      // 等待结束标记
	TagTrialVar      Tag = "TRIAL_VAR"      // 试次变量标记
	TagTrialResult   Tag = "TRIAL_RESULT"   // 试次结果标记
)

// Message 一条协议消息。发送后不可撤回、不可重排，
// 时间戳在发送时刻捕获且在整个序列上单调不减
type Message struct {
	Seq       int64     `json:"seq"`
	TrackerMS int64     `json:"tracker_ms"`
	Time      time.Time `json:"time"`
	Tag       Tag       `json:"tag"`
	Text      string    `json:"text"`
}
