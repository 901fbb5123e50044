package error

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed 连接已经关闭，所有未完成的请求都会以该错误结束
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSessionClosed 会话已经销毁，无法再发送请求
	ErrSessionClosed = errors.New("debug session is closed")
	// ErrStaleReference 引用的handle或栈帧属于上一个暂停周期，已经失效
	ErrStaleReference = errors.New("reference belongs to an expired suspend generation")
	// ErrWouldDeadlock 在派发协程上发起同步调用，会导致永久阻塞
	ErrWouldDeadlock = errors.New("blocking call on the dispatcher goroutine would deadlock")
	// ErrNotSuspended 程序未暂停，无法读取栈帧和变量
	ErrNotSuspended = errors.New("debuggee is not suspended")
	// ErrBreakpointNotCreated 断点还未创建完成，无法flush或clear
	ErrBreakpointNotCreated = errors.New("breakpoint has no remote id yet")
)

// RequestFailure 服务端明确返回失败的命令，只影响该命令的回调
type RequestFailure struct {
	Command string
	Message string
}

func (e *RequestFailure) Error() string {
	return fmt.Sprintf("command %s failed: %s", e.Command, e.Message)
}

// NewRequestFailure 创建一个RequestFailure
func NewRequestFailure(command string, message string) *RequestFailure {
	return &RequestFailure{Command: command, Message: message}
}

// ProtocolError 报文无法解析成预期的结构，该报文会被丢弃，会话继续
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func NewProtocolError(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
