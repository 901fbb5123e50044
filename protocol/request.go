package protocol

import "github.com/fansqz/v8-debug-client/constants"

// Request 发往调试服务的命令报文
// 序列号由correlator分配，arguments的结构取决于命令类型
type Request struct {
	Seq       uint64                     `json:"seq"`
	Type      constants.DebugMessageType `json:"type"`
	Command   constants.CommandType      `json:"command"`
	Arguments interface{}                `json:"arguments,omitempty"`
}

// NewRequest 创建一个请求报文，seq由调用方（correlator）填入
func NewRequest(command constants.CommandType, arguments interface{}) *Request {
	return &Request{
		Type:      constants.RequestMessage,
		Command:   command,
		Arguments: arguments,
	}
}

// SetBreakpointArguments setbreakpoint命令参数
type SetBreakpointArguments struct {
	// Type 断点目标类型：script/scriptId/function
	Type constants.BreakpointTargetType `json:"type"`
	// Target 脚本名称、脚本id或者函数名
	Target      string `json:"target"`
	Line        int    `json:"line,omitempty"`
	Column      int    `json:"column,omitempty"`
	Enabled     bool   `json:"enabled"`
	Condition   string `json:"condition,omitempty"`
	IgnoreCount int    `json:"ignoreCount,omitempty"`
}

// ChangeBreakpointArguments changebreakpoint命令参数
// 可变字段使用指针，只下发被修改过的字段
type ChangeBreakpointArguments struct {
	Breakpoint  int64   `json:"breakpoint"`
	Enabled     *bool   `json:"enabled,omitempty"`
	Condition   *string `json:"condition,omitempty"`
	IgnoreCount *int    `json:"ignoreCount,omitempty"`
}

// ClearBreakpointArguments clearbreakpoint命令参数
type ClearBreakpointArguments struct {
	Breakpoint int64 `json:"breakpoint"`
}

// LookupArguments lookup命令参数，根据handle批量查询远程对象
type LookupArguments struct {
	Handles        []int64 `json:"handles"`
	IncludeSource  bool    `json:"includeSource,omitempty"`
	InlineRefs     bool    `json:"inlineRefs,omitempty"`
	MaxStringWidth int     `json:"maxStringLength,omitempty"`
}

// BacktraceArguments backtrace命令参数
type BacktraceArguments struct {
	FromFrame   int  `json:"fromFrame"`
	ToFrame     int  `json:"toFrame"`
	InlineRefs  bool `json:"inlineRefs,omitempty"`
	NoRefs      bool `json:"noRefs,omitempty"`
	TotalFrames bool `json:"totalFrames,omitempty"`
}

// ContinueArguments continue命令参数，stepaction为空表示直接恢复执行
type ContinueArguments struct {
	StepAction constants.StepActionType `json:"stepaction,omitempty"`
	StepCount  int                      `json:"stepcount,omitempty"`
}

// EvaluateArguments evaluate命令参数
type EvaluateArguments struct {
	Expression string `json:"expression"`
	// Frame 表达式求值所在的栈帧，nil表示全局
	Frame  *int `json:"frame,omitempty"`
	Global bool `json:"global,omitempty"`
}

// ScriptsArguments scripts命令参数
type ScriptsArguments struct {
	Types         int  `json:"types,omitempty"`
	IncludeSource bool `json:"includeSource,omitempty"`
}
