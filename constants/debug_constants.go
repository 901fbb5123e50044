package constants

// DebugMessageType 协议报文类型
type DebugMessageType string

const (
	RequestMessage  DebugMessageType = "request"
	ResponseMessage DebugMessageType = "response"
	EventMessage    DebugMessageType = "event"
)

// CommandType v8调试协议的命令类型
type CommandType string

const (
	// SetBreakpointCommand 设置断点，返回服务端分配的断点id
	SetBreakpointCommand CommandType = "setbreakpoint"
	// ChangeBreakpointCommand 修改断点，携带断点id和需要修改的字段
	ChangeBreakpointCommand CommandType = "changebreakpoint"
	// ClearBreakpointCommand 删除断点
	ClearBreakpointCommand CommandType = "clearbreakpoint"
	// ListBreakpointsCommand 获取服务端的断点列表，用于断点同步
	ListBreakpointsCommand CommandType = "listbreakpoints"
	// LookupCommand 根据handle查询远程对象的值
	LookupCommand CommandType = "lookup"
	// BacktraceCommand 获取栈帧列表
	BacktraceCommand CommandType = "backtrace"
	// ContinueCommand 继续执行，携带stepaction则为单步调试
	ContinueCommand CommandType = "continue"
	// SuspendCommand 暂停执行
	SuspendCommand CommandType = "suspend"
	// EvaluateCommand 表达式求值
	EvaluateCommand CommandType = "evaluate"
	// ScriptsCommand 获取已加载的脚本列表
	ScriptsCommand CommandType = "scripts"
	// DisconnectCommand 断开调试连接
	DisconnectCommand CommandType = "disconnect"
)

// DebugEventType 调试事件类型
type DebugEventType string

const (
	// BreakEvent 程序命中断点暂停
	BreakEvent DebugEventType = "break"
	// ExceptionEvent 程序因异常暂停
	ExceptionEvent DebugEventType = "exception"
	// RunningEvent 程序恢复执行
	RunningEvent DebugEventType = "running"
	// AfterCompileEvent 服务端加载了新脚本
	AfterCompileEvent DebugEventType = "afterCompile"
)

// StepActionType 单步调试类型
type StepActionType string

const (
	StepIn   StepActionType = "in"
	StepOut  StepActionType = "out"
	StepOver StepActionType = "next"
)

// ValueType 远程值的类型
type ValueType string

const (
	ValueUndefined ValueType = "undefined"
	ValueNull      ValueType = "null"
	ValueBoolean   ValueType = "boolean"
	ValueNumber    ValueType = "number"
	ValueString    ValueType = "string"
	ValueObject    ValueType = "object"
	ValueArray     ValueType = "array"
	ValueFunction  ValueType = "function"
	ValueError     ValueType = "error"
)

// IsScalar 判断该类型的值是否为标量，标量的值在首次下发后不会再变化
func (v ValueType) IsScalar() bool {
	switch v {
	case ValueObject, ValueArray, ValueFunction:
		return false
	}
	return true
}

// BreakpointTargetType 断点目标类型
type BreakpointTargetType string

const (
	// TargetScriptName 按脚本名称设置断点
	TargetScriptName BreakpointTargetType = "script"
	// TargetScriptID 按脚本id设置断点
	TargetScriptID BreakpointTargetType = "scriptId"
	// TargetFunction 按函数名设置断点
	TargetFunction BreakpointTargetType = "function"
)

// ScopeType v8作用域类型，backtrace返回的scope的type字段
type ScopeType int

// Global: 全局作用域，包含全局变量。
// Local: 当前栈帧的局部变量和参数。
// With: with语句产生的作用域。
// Closure: 闭包作用域，内部函数访问外部函数变量时产生。
// Catch: catch块的作用域。
const (
	ScopeGlobal  ScopeType = 0
	ScopeLocal   ScopeType = 1
	ScopeWith    ScopeType = 2
	ScopeClosure ScopeType = 3
	ScopeCatch   ScopeType = 4
)
