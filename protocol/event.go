package protocol

import (
	"encoding/json"

	"github.com/fansqz/v8-debug-client/constants"
)

// Event 服务端主动推送的事件报文
type Event struct {
	Seq   uint64                   `json:"seq"`
	Event constants.DebugEventType `json:"event"`
	Body  json.RawMessage          `json:"body,omitempty"`
}

// IsSuspendEvent 判断该事件是否表示程序暂停
func (e *Event) IsSuspendEvent() bool {
	return e.Event == constants.BreakEvent || e.Event == constants.ExceptionEvent
}

// IsResumeEvent 判断该事件是否表示程序恢复执行
func (e *Event) IsResumeEvent() bool {
	return e.Event == constants.RunningEvent
}

// BreakEventBody break事件体
// 该事件表明程序命中断点暂停，栈帧数据需要通过backtrace命令获取
type BreakEventBody struct {
	InvocationText string    `json:"invocationText,omitempty"`
	SourceLine     int       `json:"sourceLine"`
	SourceColumn   int       `json:"sourceColumn"`
	SourceLineText string    `json:"sourceLineText,omitempty"`
	Script         ScriptRef `json:"script"`
	// Breakpoints 命中的断点id列表，空表示debugger语句或者单步停止
	Breakpoints []int64 `json:"breakpoints,omitempty"`
}

// ExceptionEventBody exception事件体
// 该事件表明程序因为抛出异常而暂停
type ExceptionEventBody struct {
	Uncaught     bool        `json:"uncaught"`
	Exception    ValueRecord `json:"exception"`
	SourceLine   int         `json:"sourceLine"`
	SourceColumn int         `json:"sourceColumn"`
	Script       ScriptRef   `json:"script"`
}

// AfterCompileEventBody afterCompile事件体，服务端加载了新脚本
type AfterCompileEventBody struct {
	Script ScriptRecord `json:"script"`
}

// ScriptRecord 脚本信息
type ScriptRecord struct {
	Handle    int64  `json:"handle"`
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	LineCount int    `json:"lineCount"`
	Source    string `json:"source,omitempty"`
}
