package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/fansqz/v8-debug-client/constants"
	"github.com/fansqz/v8-debug-client/launcher"
	"github.com/fansqz/v8-debug-client/protocol"
	"github.com/fansqz/v8-debug-client/scriptutil"
	"github.com/fansqz/v8-debug-client/session"
	"github.com/fansqz/v8-debug-client/transport"
	"github.com/fansqz/v8-debug-client/utils"
)

// launchArguments launch请求参数
type launchArguments struct {
	// Program 入口脚本
	Program string `json:"program"`
	// Runtime js运行时，默认node
	Runtime string `json:"runtime,omitempty"`
	// Port 调试端口
	Port int `json:"port,omitempty"`
	// StopOnEntry 在第一行暂停
	StopOnEntry bool `json:"stopOnEntry,omitempty"`
	// Args 传给脚本的参数
	Args []string `json:"args,omitempty"`
}

// attachArguments attach请求参数
type attachArguments struct {
	// Address 远程调试服务地址，如127.0.0.1:5858
	Address string `json:"address"`
}

func (a *DebugAdapter) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsFunctionBreakpoints = true
	response.Body.SupportsConditionalBreakpoints = true
	response.Body.SupportsEvaluateForHovers = true
	response.Body.SupportsSetVariable = false
	response.Body.SupportsRestartRequest = false
	response.Body.SupportTerminateDebuggee = true
	response.Body.SupportsTerminateRequest = true
	// Notify the client with an 'initialized' event. The client will end
	// the configuration sequence with 'configurationDone' request.
	e := &dap.InitializedEvent{Event: *newEvent("initialized")}
	a.send(e)
	a.send(response)
}

func (a *DebugAdapter) onLaunchRequest(request *dap.LaunchRequest) {
	args := launchArguments{}
	if err := json.Unmarshal(request.Arguments, &args); err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	if args.Program == "" {
		args.Program = a.defaultProgram
	}
	if args.Program == "" {
		a.send(newErrorResponse(request.Seq, request.Command, "launch request has no program"))
		return
	}
	a.stopOnEntry = args.StopOnEntry
	a.launchedScript = args.Program

	// 静态分析入口脚本，函数断点需要用它换算位置
	if code, err := os.ReadFile(args.Program); err == nil {
		if functions, err := scriptutil.AnalyzeFunctions(code); err == nil {
			a.functionInfos = functions
		} else {
			logrus.Warnf("[DebugAdapter] analyze %s fail, err = %v", args.Program, err)
		}
	}

	// 以调试模式拉起目标进程，总是先停在第一行，等配置完断点再决定是否放行
	l, err := launcher.Launch(&launcher.Option{
		Runtime:      args.Runtime,
		Script:       args.Program,
		Args:         args.Args,
		Port:         args.Port,
		BreakOnStart: true,
	})
	if err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	a.launcher = l
	l.ForwardOutput(func(output string) {
		event := &dap.OutputEvent{Event: *newEvent("output")}
		event.Body.Category = "stdout"
		event.Body.Output = output
		a.send(event)
	})

	if err := a.connectSession(l.Address()); err != nil {
		_ = l.Close()
		a.launcher = nil
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.LaunchResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	a.send(response)
}

func (a *DebugAdapter) onAttachRequest(request *dap.AttachRequest) {
	args := attachArguments{}
	if err := json.Unmarshal(request.Arguments, &args); err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	address := args.Address
	if address == "" {
		address = a.backend
	}
	if address == "" {
		a.send(newErrorResponse(request.Seq, request.Command, "attach address is empty"))
		return
	}
	if err := a.connectSession(address); err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.AttachResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	a.send(response)
}

// connectSession 连接远程调试服务并建立会话
// 目标进程刚启动时调试端口可能还没就绪，带重试
func (a *DebugAdapter) connectSession(address string) error {
	var (
		t   *transport.SocketTransport
		err error
	)
	for i := 0; i < 10; i++ {
		t, err = transport.Dial(address)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		return err
	}
	a.debugSession = session.Attach(t)
	a.debugSession.Subscribe(a.translateEvent)
	a.debugSession.SetClosedHandler(func(reason error) {
		event := &dap.TerminatedEvent{Event: *newEvent("terminated")}
		a.send(event)
	})
	return nil
}

// translateEvent 把v8事件翻译成DAP事件
// 在会话的派发协程上执行，这里不允许发起同步调用
func (a *DebugAdapter) translateEvent(event *protocol.Event) {
	switch event.Event {
	case constants.BreakEvent:
		a.clearRefs()
		body := &protocol.BreakEventBody{}
		reason := "step"
		if err := json.Unmarshal(event.Body, body); err == nil && len(body.Breakpoints) > 0 {
			reason = "breakpoint"
		}
		stopped := &dap.StoppedEvent{Event: *newEvent("stopped")}
		stopped.Body = dap.StoppedEventBody{Reason: reason, ThreadId: 1, AllThreadsStopped: true}
		a.send(stopped)
	case constants.ExceptionEvent:
		a.clearRefs()
		stopped := &dap.StoppedEvent{Event: *newEvent("stopped")}
		stopped.Body = dap.StoppedEventBody{Reason: "exception", ThreadId: 1, AllThreadsStopped: true}
		a.send(stopped)
	case constants.RunningEvent:
		a.clearRefs()
		continued := &dap.ContinuedEvent{Event: *newEvent("continued")}
		continued.Body = dap.ContinuedEventBody{ThreadId: 1, AllThreadsContinued: true}
		a.send(continued)
	}
}

func (a *DebugAdapter) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	if !a.requireSession(request.Seq, request.Command) {
		return
	}
	path := request.Arguments.Source.Path
	manager := a.debugSession.Breakpoints()

	// 先清掉该脚本原来的断点，再按请求重建
	for _, breakpoint := range a.breakpoints[path] {
		done := make(chan struct{})
		breakpoint.Clear(nil, done)
		<-done
	}
	a.breakpoints[path] = nil

	response := &dap.SetBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, sourceBreakpoint := range request.Arguments.Breakpoints {
		// DAP的行号从1开始，v8从0开始
		line := sourceBreakpoint.Line - 1
		var (
			created *session.Breakpoint
			cerr    error
		)
		done := make(chan struct{})
		manager.Create(constants.TargetScriptName, path, line, 0, true,
			sourceBreakpoint.Condition, 0, func(breakpoint *session.Breakpoint, err error) {
				created = breakpoint
				cerr = err
			}, done)
		<-done
		response.Body.Breakpoints[i].Line = sourceBreakpoint.Line
		if cerr != nil {
			response.Body.Breakpoints[i].Verified = false
			response.Body.Breakpoints[i].Message = cerr.Error()
			continue
		}
		remoteID, _ := created.RemoteID()
		response.Body.Breakpoints[i].Verified = true
		response.Body.Breakpoints[i].Id = int(remoteID)
		a.breakpoints[path] = append(a.breakpoints[path], created)
	}
	a.send(response)
}

func (a *DebugAdapter) onSetFunctionBreakpointsRequest(request *dap.SetFunctionBreakpointsRequest) {
	if !a.requireSession(request.Seq, request.Command) {
		return
	}
	manager := a.debugSession.Breakpoints()
	response := &dap.SetFunctionBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, functionBreakpoint := range request.Arguments.Breakpoints {
		targetType := constants.TargetFunction
		target := functionBreakpoint.Name
		line := 0
		// 静态分析能定位的函数直接换算成脚本位置，匿名或箭头函数服务端按函数名找不到
		if info, ok := scriptutil.FindFunction(a.functionInfos, functionBreakpoint.Name); ok {
			targetType = constants.TargetScriptName
			target = a.entryScript()
			line = info.Line
		}
		var (
			created *session.Breakpoint
			cerr    error
		)
		done := make(chan struct{})
		manager.Create(targetType, target, line, 0, true,
			functionBreakpoint.Condition, 0, func(breakpoint *session.Breakpoint, err error) {
				created = breakpoint
				cerr = err
			}, done)
		<-done
		if cerr != nil {
			response.Body.Breakpoints[i].Verified = false
			response.Body.Breakpoints[i].Message = cerr.Error()
			continue
		}
		remoteID, _ := created.RemoteID()
		response.Body.Breakpoints[i].Verified = true
		response.Body.Breakpoints[i].Id = int(remoteID)
	}
	a.send(response)
}

// entryScript launch模式的入口脚本路径
func (a *DebugAdapter) entryScript() string {
	return a.launchedScript
}

func (a *DebugAdapter) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	a.send(response)
	// launch总是先停在第一行，没要求stopOnEntry就直接放行
	if a.debugSession != nil && !a.stopOnEntry && a.debugSession.Status() == utils.Suspended {
		if err := a.debugSession.Resume(nil, nil); err != nil {
			logrus.Warnf("[DebugAdapter] resume after configuration fail, err = %v", err)
		}
	}
}

// requireSession 校验调试会话已建立，未建立时直接回错误响应
func (a *DebugAdapter) requireSession(requestSeq int, command string) bool {
	if a.debugSession == nil {
		a.send(newErrorResponse(requestSeq, command, "debug session not started"))
		return false
	}
	return true
}

func (a *DebugAdapter) onContinueRequest(request *dap.ContinueRequest) {
	if !a.requireSession(request.Seq, request.Command) {
		return
	}
	if err := a.debugSession.Resume(nil, nil); err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	a.send(response)
}

func (a *DebugAdapter) onNextRequest(request *dap.NextRequest) {
	if !a.requireSession(request.Seq, request.Command) {
		return
	}
	if err := a.debugSession.StepOver(nil, nil); err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.NextResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	a.send(response)
}

func (a *DebugAdapter) onStepInRequest(request *dap.StepInRequest) {
	if !a.requireSession(request.Seq, request.Command) {
		return
	}
	if err := a.debugSession.StepIn(nil, nil); err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StepInResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	a.send(response)
}

func (a *DebugAdapter) onStepOutRequest(request *dap.StepOutRequest) {
	if !a.requireSession(request.Seq, request.Command) {
		return
	}
	if err := a.debugSession.StepOut(nil, nil); err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StepOutResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	a.send(response)
}

func (a *DebugAdapter) onPauseRequest(request *dap.PauseRequest) {
	if !a.requireSession(request.Seq, request.Command) {
		return
	}
	if err := a.debugSession.Pause(nil, nil); err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.PauseResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	a.send(response)
}

func (a *DebugAdapter) onStackTraceRequest(request *dap.StackTraceRequest) {
	if !a.requireSession(request.Seq, request.Command) {
		return
	}
	frames, err := a.debugSession.CallFrames()
	if err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	stackFrames := make([]dap.StackFrame, 0, len(frames))
	for _, frame := range frames {
		name := frame.FunctionName()
		if name == "" {
			name = "(anonymous)"
		}
		stackFrames = append(stackFrames, dap.StackFrame{
			Id:     frame.Index(),
			Name:   name,
			Line:   frame.Line() + 1,
			Column: frame.Column() + 1,
			Source: &dap.Source{Name: frame.ScriptName(), Path: frame.ScriptName()},
		})
	}
	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.StackTraceResponseBody{
		StackFrames: stackFrames,
		TotalFrames: len(stackFrames),
	}
	a.send(response)
}

func (a *DebugAdapter) onScopesRequest(request *dap.ScopesRequest) {
	if !a.requireSession(request.Seq, request.Command) {
		return
	}
	frames, err := a.debugSession.CallFrames()
	if err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	var scopes []dap.Scope
	for _, frame := range frames {
		if frame.Index() != request.Arguments.FrameId {
			continue
		}
		frameScopes, err := frame.Scopes()
		if err != nil {
			a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
		for _, scope := range frameScopes {
			scopes = append(scopes, dap.Scope{
				Name:               scopeName(scope.Type()),
				VariablesReference: a.registerRef(scope.Object()),
			})
		}
		break
	}
	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.ScopesResponseBody{Scopes: scopes}
	a.send(response)
}

func (a *DebugAdapter) onVariablesRequest(request *dap.VariablesRequest) {
	if !a.requireSession(request.Seq, request.Command) {
		return
	}
	mirror, ok := a.lookupRef(request.Arguments.VariablesReference)
	if !ok {
		a.send(newErrorResponse(request.Seq, request.Command, "unknown variables reference"))
		return
	}
	properties, err := a.debugSession.Mirrors().SubpropertiesSync(mirror)
	if err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	variables := make([]dap.Variable, 0, len(properties))
	for _, property := range properties {
		variable := dap.Variable{Name: property.Name()}
		if value := property.Mirror(); value != nil {
			variable.Value = value.Text()
			variable.Type = string(value.Type())
			if !value.Type().IsScalar() {
				variable.VariablesReference = a.registerRef(value)
			}
		}
		variables = append(variables, variable)
	}
	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.VariablesResponseBody{Variables: variables}
	a.send(response)
}

func (a *DebugAdapter) onEvaluateRequest(request *dap.EvaluateRequest) {
	if !a.requireSession(request.Seq, request.Command) {
		return
	}
	var frame *int
	if request.Arguments.FrameId != 0 || a.debugSession.Status() == utils.Suspended {
		frameIndex := request.Arguments.FrameId
		frame = &frameIndex
	}
	mirror, err := a.debugSession.EvaluateSync(request.Arguments.Expression, frame)
	if err != nil {
		a.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.EvaluateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Result = mirror.Text()
	response.Body.Type = string(mirror.Type())
	if !mirror.Type().IsScalar() {
		response.Body.VariablesReference = a.registerRef(mirror)
	}
	a.send(response)
}

func (a *DebugAdapter) onDisconnectRequest(request *dap.DisconnectRequest) {
	a.shutdown()
	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	a.send(response)
}

func (a *DebugAdapter) onTerminateRequest(request *dap.TerminateRequest) {
	a.shutdown()
	response := &dap.TerminateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	a.send(response)
	a.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
}

// scopeName v8作用域类型对应的展示名
func scopeName(scopeType constants.ScopeType) string {
	switch scopeType {
	case constants.ScopeLocal:
		return "Local"
	case constants.ScopeGlobal:
		return "Global"
	case constants.ScopeClosure:
		return "Closure"
	case constants.ScopeWith:
		return "With"
	case constants.ScopeCatch:
		return "Catch"
	default:
		return "Scope"
	}
}
