package devlink

// 线协议：客户端与追踪主机之间的单行文本请求/应答。
// 主机在连接建立后先发送 "HELLO <version> <tag...>"，
// 之后每条请求对应一条应答："OK[ <args>]" 或 "ERR <reason>"。
// GETFILE 的应答为 "FILE <size>"，紧随其后一帧二进制消息携带文件内容。

const (
	VerbOpen      = "OPEN"      // OPEN <name>
	VerbCloseFile = "CLOSEFILE" // CLOSEFILE
	VerbCommand   = "CMD"       // CMD <text>
	VerbMessage   = "MSG"       // MSG <ms> <text>
	VerbRecStart  = "RECSTART"  // RECSTART
	VerbRecStop   = "RECSTOP"   // RECSTOP
	VerbCalibrate = "CAL"       // CAL <type>
	VerbDrift     = "DRIFT"     // DRIFT <x> <y>
	VerbImage     = "IMG"       // IMG <name> <x> <y> <w> <h>
	VerbGetFile   = "GETFILE"   // GETFILE <name>
	VerbPing      = "PING"      // PING
	VerbBye       = "BYE"       // BYE

	ReplyHello = "HELLO"
	ReplyOK    = "OK"
	ReplyErr   = "ERR"
	ReplyFile  = "FILE"
)
