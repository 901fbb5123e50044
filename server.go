package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/fansqz/v8-debug-client/launcher"
	"github.com/fansqz/v8-debug-client/scriptutil"
	"github.com/fansqz/v8-debug-client/session"
)

// handleConnection handles a connection from a single DAP client.
// It reads and decodes the incoming requests and dispatches them
// to the request handlers, which drive the v8 debug session.
func handleConnection(conn net.Conn, backend string, defaultProgram string) {
	adapter := &DebugAdapter{
		conn:           conn,
		rw:             bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		backend:        backend,
		defaultProgram: defaultProgram,
		breakpoints:    make(map[string][]*session.Breakpoint),
		refs:           make(map[int]refEntry),
	}

	for {
		err := adapter.handleRequest()
		if err != nil {
			if err == io.EOF {
				logrus.Infof("[DebugAdapter] no more data to read")
				break
			}
			logrus.Errorf("[DebugAdapter] server error, err = %v", err)
			break
		}
	}

	logrus.Infof("[DebugAdapter] closing connection from %s", conn.RemoteAddr())
	adapter.shutdown()
	conn.Close()
}

// DebugAdapter 一个DAP客户端连接对应的适配会话
// 把DAP请求翻译成v8调试会话的操作，把v8事件翻译回DAP事件
type DebugAdapter struct {
	conn net.Conn
	// rw is used to read requests and write events/responses
	rw       *bufio.ReadWriter
	sendLock sync.Mutex

	backend string
	// defaultProgram -file参数，launch请求没带program时的入口脚本
	defaultProgram string

	debugSession *session.DebugSession
	launcher     *launcher.Launcher

	// stopOnEntry launch参数，在第一行暂停
	stopOnEntry bool
	// launchedScript launch模式的入口脚本路径
	launchedScript string

	// functionInfos 入口脚本静态分析出的函数列表，函数断点靠它换算位置
	functionInfos []scriptutil.FunctionInfo

	// breakpoints 每个脚本路径当前生效的断点
	breakpoints map[string][]*session.Breakpoint

	// refs DAP的variablesReference到mirror的映射
	refsLock sync.Mutex
	nextRef  int
	refs     map[int]refEntry
}

// refEntry variablesReference指向的mirror及其所属暂停周期
type refEntry struct {
	mirror     *session.ValueMirror
	generation int64
}

func (a *DebugAdapter) handleRequest() error {
	request, err := dap.ReadProtocolMessage(a.rw.Reader)
	if err != nil {
		return err
	}
	a.dispatchRequest(request)
	return nil
}

func (a *DebugAdapter) dispatchRequest(request dap.Message) {
	switch request := request.(type) {
	case *dap.InitializeRequest:
		a.onInitializeRequest(request)
	case *dap.LaunchRequest:
		a.onLaunchRequest(request)
	case *dap.AttachRequest:
		a.onAttachRequest(request)
	case *dap.SetBreakpointsRequest:
		a.onSetBreakpointsRequest(request)
	case *dap.SetFunctionBreakpointsRequest:
		a.onSetFunctionBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		a.onConfigurationDoneRequest(request)
	case *dap.ContinueRequest:
		a.onContinueRequest(request)
	case *dap.NextRequest:
		a.onNextRequest(request)
	case *dap.StepInRequest:
		a.onStepInRequest(request)
	case *dap.StepOutRequest:
		a.onStepOutRequest(request)
	case *dap.PauseRequest:
		a.onPauseRequest(request)
	case *dap.StackTraceRequest:
		a.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		a.onScopesRequest(request)
	case *dap.VariablesRequest:
		a.onVariablesRequest(request)
	case *dap.EvaluateRequest:
		a.onEvaluateRequest(request)
	case *dap.DisconnectRequest:
		a.onDisconnectRequest(request)
	case *dap.TerminateRequest:
		a.onTerminateRequest(request)
	default:
		if baseReq, ok := request.(*dap.Request); ok {
			a.send(newErrorResponse(baseReq.Seq, baseReq.Command, fmt.Sprintf("%s is not yet supported", baseReq.Command)))
		}
		logrus.Warnf("[DebugAdapter] unable to process %#v", request)
	}
}

// send Message响应给客户端
func (a *DebugAdapter) send(message dap.Message) {
	a.sendLock.Lock()
	defer a.sendLock.Unlock()
	if err := dap.WriteProtocolMessage(a.rw.Writer, message); err != nil {
		logrus.Errorf("[DebugAdapter] write message fail, err = %v", err)
		return
	}
	_ = a.rw.Flush()
}

// shutdown 释放会话和目标进程
func (a *DebugAdapter) shutdown() {
	if a.debugSession != nil {
		_ = a.debugSession.Detach()
		a.debugSession = nil
	}
	if a.launcher != nil {
		_ = a.launcher.Close()
		a.launcher = nil
	}
}

// registerRef 给mirror分配一个variablesReference
func (a *DebugAdapter) registerRef(mirror *session.ValueMirror) int {
	a.refsLock.Lock()
	defer a.refsLock.Unlock()
	a.nextRef++
	a.refs[a.nextRef] = refEntry{mirror: mirror, generation: mirror.Generation()}
	return a.nextRef
}

// lookupRef 根据variablesReference找回mirror
func (a *DebugAdapter) lookupRef(reference int) (*session.ValueMirror, bool) {
	a.refsLock.Lock()
	defer a.refsLock.Unlock()
	entry, ok := a.refs[reference]
	if !ok {
		return nil, false
	}
	return entry.mirror, true
}

// clearRefs 暂停周期推进后丢弃旧引用
func (a *DebugAdapter) clearRefs() {
	a.refsLock.Lock()
	defer a.refsLock.Unlock()
	a.refs = make(map[int]refEntry)
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{}
	er.Body.Error.Format = message
	er.Body.Error.Id = 12345
	return er
}
