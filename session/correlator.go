package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fansqz/v8-debug-client/constants"
	e "github.com/fansqz/v8-debug-client/error"
	"github.com/fansqz/v8-debug-client/protocol"
	"github.com/fansqz/v8-debug-client/transport"
	"github.com/fansqz/v8-debug-client/utils"
	"github.com/sirupsen/logrus"
)

// ResultCallback 命令结果回调
// 服务端应答成功时err为nil，body为应答体；
// 服务端明确返回失败时err为*RequestFailure；连接关闭时err为ErrConnectionClosed
type ResultCallback func(body json.RawMessage, err error)

// pendingRequest 已发出但未收到应答的请求
// callback和done最多触发一次，从pending表中移除即视为完成
type pendingRequest struct {
	seq      uint64
	command  constants.CommandType
	callback ResultCallback
	done     chan struct{}
}

// complete 完成该请求，先触发结果回调再触发完成信号
func (p *pendingRequest) complete(body json.RawMessage, err error) {
	if p.callback != nil {
		p.callback(body, err)
	}
	if p.done != nil {
		close(p.done)
	}
}

// RequestCorrelator 请求应答匹配器
// 负责给命令分配递增的序列号，记录未完成的请求，并把应答路由回对应的回调。
// Send可以在任意协程调用，应答的匹配只会发生在会话的派发协程上
type RequestCorrelator struct {
	transport transport.Transport

	lock    sync.Mutex
	nextSeq uint64
	pending map[uint64]*pendingRequest
	closed  bool

	// dispatcherID 派发协程的id，同步调用需要用它做死锁自检
	dispatcherID atomic.Int64
}

func NewRequestCorrelator(t transport.Transport) *RequestCorrelator {
	c := &RequestCorrelator{
		transport: t,
		pending:   make(map[uint64]*pendingRequest),
	}
	c.dispatcherID.Store(-1)
	return c
}

// bindDispatcher 记录派发协程id，由会话的派发循环启动时调用
func (c *RequestCorrelator) bindDispatcher(goroutineID int64) {
	c.dispatcherID.Store(goroutineID)
}

// onDispatcher 判断当前协程是否为派发协程
func (c *RequestCorrelator) onDispatcher() bool {
	return utils.GetGoroutineID() == c.dispatcherID.Load()
}

// Send 异步发送一条命令
// callback和done都可以为nil，报文仍然正常发出，只是不触发任何回调。
// 发送失败时请求不会留在未完成表里，callback和done都不触发，
// 失败只通过返回值报告一次，由调用方处理。
// 返回分配的序列号
func (c *RequestCorrelator) Send(command constants.CommandType, args interface{},
	callback ResultCallback, done chan struct{}) (uint64, error) {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return 0, e.ErrConnectionClosed
	}
	c.nextSeq++
	seq := c.nextSeq
	request := protocol.NewRequest(command, args)
	request.Seq = seq
	p := &pendingRequest{seq: seq, command: command, callback: callback, done: done}
	c.pending[seq] = p
	c.lock.Unlock()

	data, err := json.Marshal(request)
	if err != nil {
		c.take(seq)
		return 0, err
	}
	if err := c.transport.Send(data); err != nil {
		c.take(seq)
		return 0, fmt.Errorf("%w: %v", e.ErrConnectionClosed, err)
	}
	return seq, nil
}

// SendSync 同步发送一条命令，阻塞直到收到应答或者连接关闭
// 禁止在派发协程上调用：应答只能由派发协程驱动，在派发协程上等待会永久阻塞，
// 这里直接返回ErrWouldDeadlock
func (c *RequestCorrelator) SendSync(command constants.CommandType, args interface{}) (json.RawMessage, error) {
	if c.onDispatcher() {
		return nil, e.ErrWouldDeadlock
	}
	var (
		body json.RawMessage
		rerr error
	)
	done := make(chan struct{})
	if _, err := c.Send(command, args, func(b json.RawMessage, err error) {
		body = b
		rerr = err
	}, done); err != nil {
		return nil, err
	}
	<-done
	return body, rerr
}

// HandleResponse 匹配一条应答，由派发协程调用
// 未知序列号的应答记录日志后丢弃，不影响会话
func (c *RequestCorrelator) HandleResponse(response *protocol.Response) {
	p := c.take(response.RequestSeq)
	if p == nil {
		logrus.Warnf("[RequestCorrelator] drop reply with unknown sequence number %d", response.RequestSeq)
		return
	}
	if response.Success {
		p.complete(response.Body, nil)
	} else {
		p.complete(nil, e.NewRequestFailure(string(p.command), response.Message))
	}
}

// FailAll 连接关闭时让所有未完成的请求以连接关闭错误结束
// 这是唯一允许请求不按应答顺序完成的路径，每个请求仍然只完成一次
func (c *RequestCorrelator) FailAll(reason error) {
	c.lock.Lock()
	c.closed = true
	orphans := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	c.lock.Unlock()

	err := error(e.ErrConnectionClosed)
	if reason != nil {
		err = fmt.Errorf("%w: %v", e.ErrConnectionClosed, reason)
	}
	// 按序列号顺序完成，行为可预期
	seqs := make([]uint64, 0, len(orphans))
	for seq := range orphans {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		orphans[seq].complete(nil, err)
	}
}

// PendingCount 未完成的请求数量
func (c *RequestCorrelator) PendingCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.pending)
}

// take 取出并移除一个未完成请求
func (c *RequestCorrelator) take(seq uint64) *pendingRequest {
	c.lock.Lock()
	defer c.lock.Unlock()
	p := c.pending[seq]
	delete(c.pending, seq)
	return p
}
