package protocol

import "encoding/json"

// Response 命令的应答报文
// RequestSeq对应Request.Seq，Success为false时Message携带服务端的错误信息
type Response struct {
	Seq        uint64          `json:"seq"`
	RequestSeq uint64          `json:"request_seq"`
	Command    string          `json:"command"`
	Success    bool            `json:"success"`
	Message    string          `json:"message,omitempty"`
	Running    bool            `json:"running"`
	Body       json.RawMessage `json:"body,omitempty"`
	// Refs 报文附带的对象引用表，body中的ref句柄可以在这里找到完整的值
	Refs []ValueRecord `json:"refs,omitempty"`
}

// SetBreakpointBody setbreakpoint应答体
type SetBreakpointBody struct {
	Type       string `json:"type"`
	Breakpoint int64  `json:"breakpoint"`
}

// ListBreakpointsBody listbreakpoints应答体
type ListBreakpointsBody struct {
	Breakpoints []BreakpointRecord `json:"breakpoints"`
}

// BreakpointRecord 服务端视角的断点记录
type BreakpointRecord struct {
	Number      int64  `json:"number"`
	Type        string `json:"type"`
	ScriptName  string `json:"script_name,omitempty"`
	ScriptID    int64  `json:"script_id,omitempty"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
	Condition   string `json:"condition,omitempty"`
	Enabled     bool   `json:"active"`
	IgnoreCount int    `json:"ignoreCount"`
	HitCount    int    `json:"hit_count"`
}

// BacktraceBody backtrace应答体，栈帧按内层到外层排列
type BacktraceBody struct {
	FromFrame   int           `json:"fromFrame"`
	ToFrame     int           `json:"toFrame"`
	TotalFrames int           `json:"totalFrames"`
	Frames      []FrameRecord `json:"frames"`
}

// FrameRecord backtrace返回的单个栈帧
type FrameRecord struct {
	Index    int           `json:"index"`
	Func     ValueRecord   `json:"func"`
	Script   ScriptRef     `json:"script"`
	Line     int           `json:"line"`
	Column   int           `json:"column"`
	Text     string        `json:"text,omitempty"`
	Scopes   []ScopeRecord `json:"scopes"`
	Receiver *ValueRecord  `json:"receiver,omitempty"`
}

// ScopeRecord 栈帧作用域，Object为作用域对象的引用
type ScopeRecord struct {
	Type   int         `json:"type"`
	Index  int         `json:"index"`
	Object ValueRecord `json:"object"`
}

// ScriptRef 脚本引用
type ScriptRef struct {
	Ref  int64  `json:"ref,omitempty"`
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}
