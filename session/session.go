package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/fansqz/v8-debug-client/constants"
	e "github.com/fansqz/v8-debug-client/error"
	"github.com/fansqz/v8-debug-client/protocol"
	"github.com/fansqz/v8-debug-client/transport"
	"github.com/fansqz/v8-debug-client/utils"
	"github.com/fansqz/v8-debug-client/utils/gosync"
	"github.com/sirupsen/logrus"
)

// backtraceDepth 每次暂停自动拉取的栈帧数量上限
const backtraceDepth = 64

// EventHandler 事件订阅回调，在派发协程上按订阅顺序同步触发
type EventHandler func(event *protocol.Event)

// dispatchItem 派发队列中的一项，raw为报文，closed表示连接已关闭
type dispatchItem struct {
	raw    []byte
	closed bool
	reason error
}

// DebugSession 调试会话，聚合根
// 持有连接的生命周期和唯一的报文派发点：所有报文不管由哪个协程收到，
// 都经过内部队列串行化，由一个派发协程按到达顺序处理。
// 应答路由给RequestCorrelator，事件按订阅顺序通知订阅者。
// 暂停周期计数器只由本会话推进，mirror和栈帧快照的有效性都以它为准
type DebugSession struct {
	id string

	transport   transport.Transport
	parser      *protocol.Parser
	correlator  *RequestCorrelator
	mirrors     *MirrorCache
	breakpoints *BreakpointManager
	status      *utils.StatusManager

	queue chan dispatchItem

	// generation 暂停周期计数器，每次暂停和恢复都会递增
	generation atomic.Int64

	lock              sync.Mutex
	frames            []*CallFrame
	framesReady       chan struct{}
	framesReadyClosed bool
	subscribers       []EventHandler
	closedHandler     func(reason error)
}

// Attach 在传输连接上建立调试会话并启动派发协程
func Attach(t transport.Transport) *DebugSession {
	s := &DebugSession{
		id:         utils.GetUUID(),
		transport:  t,
		parser:     protocol.NewParser(),
		correlator: NewRequestCorrelator(t),
		status:     utils.NewStatusManager(),
		queue:      make(chan dispatchItem, 64),
	}
	s.mirrors = NewMirrorCache(s.correlator)
	s.breakpoints = NewBreakpointManager(s.correlator)
	// 远程程序attach后处于运行状态
	s.status.Set(utils.Running)

	t.SetHandler(s.onMessage, s.onTransportClosed)
	gosync.Go(context.Background(), s.dispatchLoop)
	logrus.Infof("[DebugSession] session %s attached", s.id)
	return s
}

// ID 会话id，只用于日志
func (s *DebugSession) ID() string {
	return s.id
}

// Correlator 请求匹配器
func (s *DebugSession) Correlator() *RequestCorrelator {
	return s.correlator
}

// Mirrors 远程对象镜像缓存
func (s *DebugSession) Mirrors() *MirrorCache {
	return s.mirrors
}

// Breakpoints 断点管理器
func (s *DebugSession) Breakpoints() *BreakpointManager {
	return s.breakpoints
}

// Status 会话状态，见utils.StatusManager
func (s *DebugSession) Status() string {
	return s.status.Get()
}

// Generation 当前暂停周期
func (s *DebugSession) Generation() int64 {
	return s.generation.Load()
}

func (s *DebugSession) currentGeneration() int64 {
	return s.generation.Load()
}

// Subscribe 订阅协议事件，回调在派发协程上按订阅顺序同步触发
// 订阅者不能在回调里发起同步调用，否则会收到ErrWouldDeadlock
func (s *DebugSession) Subscribe(handler EventHandler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.subscribers = append(s.subscribers, handler)
}

// SetClosedHandler 注册连接关闭回调
func (s *DebugSession) SetClosedHandler(handler func(reason error)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closedHandler = handler
}

// onMessage 传输层收包回调，把报文交给派发队列
// 可能在任意协程触发，队列保证串行和到达顺序
func (s *DebugSession) onMessage(raw []byte) {
	s.queue <- dispatchItem{raw: raw}
}

// onTransportClosed 传输层关闭回调
// 关闭也作为队列项入队，保证之前到达的报文先被处理完
func (s *DebugSession) onTransportClosed(reason error) {
	s.queue <- dispatchItem{closed: true, reason: reason}
}

// dispatchLoop 派发循环，会话内所有状态变更都发生在这个协程上
func (s *DebugSession) dispatchLoop(ctx context.Context) {
	s.correlator.bindDispatcher(utils.GetGoroutineID())
	for item := range s.queue {
		if item.closed {
			s.handleClosed(item.reason)
			return
		}
		s.dispatchMessage(item.raw)
	}
}

// dispatchMessage 处理一条报文
// 解析失败只丢弃这条报文并记录日志，之前报文建立的状态不受影响
func (s *DebugSession) dispatchMessage(raw []byte) {
	message, err := s.parser.Parse(raw)
	if err != nil {
		logrus.Warnf("[DebugSession] drop undecodable message, err = %v", err)
		return
	}
	switch m := message.(type) {
	case *protocol.Response:
		// 应答附带的引用表先入缓存，回调里可以直接命中
		for i := range m.Refs {
			s.mirrors.AddData(&m.Refs[i])
		}
		s.correlator.HandleResponse(m)
	case *protocol.Event:
		s.handleEvent(m)
	}
}

// handleEvent 处理一条事件并通知订阅者
func (s *DebugSession) handleEvent(event *protocol.Event) {
	switch {
	case event.IsSuspendEvent():
		s.handleSuspended(event)
	case event.IsResumeEvent():
		s.handleResumed()
	}
	s.lock.Lock()
	subscribers := make([]EventHandler, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.lock.Unlock()
	for _, handler := range subscribers {
		handler(event)
	}
}

// handleSuspended 程序暂停
// 推进暂停周期，作废上个周期的mirror和栈帧，然后拉取新的栈帧快照
func (s *DebugSession) handleSuspended(event *protocol.Event) {
	generation := s.generation.Add(1)
	s.mirrors.advance(generation)
	s.lock.Lock()
	s.frames = nil
	s.closeFramesReadyLocked()
	s.framesReady = make(chan struct{})
	s.framesReadyClosed = false
	s.lock.Unlock()
	s.status.Set(utils.Suspended)
	logrus.Infof("[DebugSession] suspended, event = %s, generation = %d", event.Event, generation)

	args := &protocol.BacktraceArguments{FromFrame: 0, ToFrame: backtraceDepth, InlineRefs: true}
	_, err := s.correlator.Send(constants.BacktraceCommand, args, func(body json.RawMessage, err error) {
		s.buildFrames(generation, body, err)
	}, nil)
	if err != nil {
		logrus.Errorf("[DebugSession] request backtrace fail, err = %v", err)
		s.buildFrames(generation, nil, err)
	}
}

// buildFrames 用backtrace应答构建栈帧快照
func (s *DebugSession) buildFrames(generation int64, body json.RawMessage, err error) {
	if s.generation.Load() != generation {
		// 应答属于已经结束的暂停周期，丢弃
		return
	}
	var frames []*CallFrame
	if err != nil {
		logrus.Warnf("[DebugSession] backtrace fail, err = %v", err)
	} else {
		backtraceBody := &protocol.BacktraceBody{}
		if perr := json.Unmarshal(body, backtraceBody); perr != nil {
			logrus.Warnf("[DebugSession] invalid backtrace body, err = %v", perr)
		} else {
			for i := range backtraceBody.Frames {
				frames = append(frames, newCallFrame(s, generation, &backtraceBody.Frames[i]))
			}
		}
	}
	s.lock.Lock()
	s.frames = frames
	s.closeFramesReadyLocked()
	s.lock.Unlock()
}

// handleResumed 程序恢复执行
// 推进暂停周期：栈帧快照丢弃，已有mirror还能读到最后一次的值但不再允许懒加载
func (s *DebugSession) handleResumed() {
	generation := s.generation.Add(1)
	s.mirrors.advance(generation)
	s.lock.Lock()
	s.frames = nil
	s.closeFramesReadyLocked()
	s.framesReady = nil
	s.lock.Unlock()
	s.status.Set(utils.Running)
	logrus.Infof("[DebugSession] resumed, generation = %d", generation)
}

// handleClosed 连接关闭，会话进入终态
// 所有未完成的请求以连接关闭错误结束，同步等待方全部解除阻塞
func (s *DebugSession) handleClosed(reason error) {
	s.status.Set(utils.Closed)
	s.generation.Add(1)
	s.correlator.FailAll(reason)
	s.lock.Lock()
	s.frames = nil
	s.closeFramesReadyLocked()
	s.framesReady = nil
	closedHandler := s.closedHandler
	s.lock.Unlock()
	logrus.Infof("[DebugSession] session %s closed, reason = %v", s.id, reason)
	if closedHandler != nil {
		closedHandler(reason)
	}
}

// closeFramesReadyLocked 唤醒等待栈帧的调用方，必须持有s.lock
func (s *DebugSession) closeFramesReadyLocked() {
	if s.framesReady != nil && !s.framesReadyClosed {
		close(s.framesReady)
		s.framesReadyClosed = true
	}
}

// CallFrames 当前暂停周期的栈帧快照，内层栈帧在前
// 程序未暂停返回ErrNotSuspended；栈帧还在拉取时阻塞等待，
// 在派发协程上等待会返回ErrWouldDeadlock
func (s *DebugSession) CallFrames() ([]*CallFrame, error) {
	if !s.status.Is(utils.Suspended) {
		return nil, e.ErrNotSuspended
	}
	s.lock.Lock()
	generation := s.generation.Load()
	frames := s.frames
	ready := s.framesReady
	readyClosed := s.framesReadyClosed
	s.lock.Unlock()
	if readyClosed {
		return frames, nil
	}
	if ready == nil {
		return nil, e.ErrNotSuspended
	}
	if s.correlator.onDispatcher() {
		return nil, e.ErrWouldDeadlock
	}
	<-ready
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.generation.Load() != generation {
		return nil, e.ErrStaleReference
	}
	return s.frames, nil
}

// Resume 继续执行
// 实际的状态切换由服务端的running事件驱动
func (s *DebugSession) Resume(callback ResultCallback, done chan struct{}) error {
	if !s.status.Is(utils.Suspended) {
		return e.ErrNotSuspended
	}
	_, err := s.correlator.Send(constants.ContinueCommand, nil, callback, done)
	return err
}

// StepIn 单步进入
func (s *DebugSession) StepIn(callback ResultCallback, done chan struct{}) error {
	return s.step(constants.StepIn, callback, done)
}

// StepOver 单步跳过
func (s *DebugSession) StepOver(callback ResultCallback, done chan struct{}) error {
	return s.step(constants.StepOver, callback, done)
}

// StepOut 单步跳出
func (s *DebugSession) StepOut(callback ResultCallback, done chan struct{}) error {
	return s.step(constants.StepOut, callback, done)
}

func (s *DebugSession) step(action constants.StepActionType, callback ResultCallback, done chan struct{}) error {
	if !s.status.Is(utils.Suspended) {
		return e.ErrNotSuspended
	}
	args := &protocol.ContinueArguments{StepAction: action, StepCount: 1}
	_, err := s.correlator.Send(constants.ContinueCommand, args, callback, done)
	return err
}

// Pause 请求暂停执行，实际暂停由break事件确认
func (s *DebugSession) Pause(callback ResultCallback, done chan struct{}) error {
	if s.status.Is(utils.Closed) {
		return e.ErrSessionClosed
	}
	_, err := s.correlator.Send(constants.SuspendCommand, nil, callback, done)
	return err
}

// Evaluate 在指定栈帧上对表达式求值，frame为nil表示全局
func (s *DebugSession) Evaluate(expression string, frame *int, callback func(*ValueMirror, error)) error {
	args := &protocol.EvaluateArguments{Expression: expression, Frame: frame, Global: frame == nil}
	_, err := s.correlator.Send(constants.EvaluateCommand, args, func(body json.RawMessage, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(nil, err)
			return
		}
		record := &protocol.ValueRecord{}
		if perr := json.Unmarshal(body, record); perr != nil {
			callback(nil, e.NewProtocolError("invalid evaluate body: %v", perr))
			return
		}
		callback(s.mirrors.AddData(record), nil)
	}, nil)
	return err
}

// EvaluateSync Evaluate的同步版本
func (s *DebugSession) EvaluateSync(expression string, frame *int) (*ValueMirror, error) {
	if s.correlator.onDispatcher() {
		return nil, e.ErrWouldDeadlock
	}
	var (
		result *ValueMirror
		rerr   error
	)
	done := make(chan struct{})
	if err := s.Evaluate(expression, frame, func(mirror *ValueMirror, err error) {
		result = mirror
		rerr = err
		close(done)
	}); err != nil {
		return nil, err
	}
	<-done
	return result, rerr
}

// ScriptsSync 获取服务端已加载的脚本列表
func (s *DebugSession) ScriptsSync(includeSource bool) ([]protocol.ScriptRecord, error) {
	args := &protocol.ScriptsArguments{IncludeSource: includeSource}
	body, err := s.correlator.SendSync(constants.ScriptsCommand, args)
	if err != nil {
		return nil, err
	}
	var scripts []protocol.ScriptRecord
	if perr := json.Unmarshal(body, &scripts); perr != nil {
		return nil, e.NewProtocolError("invalid scripts body: %v", perr)
	}
	return scripts, nil
}

// Detach 断开调试，通知服务端后关闭连接
func (s *DebugSession) Detach() error {
	if s.status.Is(utils.Closed) {
		return nil
	}
	// disconnect命令尽力而为，服务端可能直接断开不回复
	_, _ = s.correlator.Send(constants.DisconnectCommand, nil, nil, nil)
	return s.transport.Close()
}
