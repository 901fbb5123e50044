package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fansqz/v8-debug-client/constants"
	e "github.com/fansqz/v8-debug-client/error"
	"github.com/fansqz/v8-debug-client/protocol"
	"github.com/fansqz/v8-debug-client/utils"
)

// backtraceReplyBody 两层栈帧：inner在a.js:3，outer在a.js:10
// 作用域对象只带ref，变量需要懒加载
const backtraceReplyBody = `{
	"fromFrame": 0, "toFrame": 2, "totalFrames": 2,
	"frames": [
		{"index":0,"func":{"ref":90,"type":"function","name":"inner"},"script":{"name":"a.js"},
		 "line":3,"column":2,"text":"#00 inner() a.js line 4",
		 "scopes":[{"type":1,"index":0,"object":{"ref":100,"type":"object"}}]},
		{"index":1,"func":{"ref":91,"type":"function","name":"outer"},"script":{"name":"a.js"},
		 "line":10,"column":0,"text":"#01 outer() a.js line 11",
		 "scopes":[{"type":1,"index":0,"object":{"ref":101,"type":"object"}},
		           {"type":0,"index":1,"object":{"ref":102,"type":"object"}}]}
	]
}`

// lookupRecords 测试服务端的对象表
var lookupRecords = map[string]string{
	"100": `{"handle":100,"type":"object","properties":[
		{"name":"a","value":{"handle":110,"type":"number","value":1}},
		{"name":"b","value":{"handle":111,"type":"string","text":"hi"}}]}`,
	"101": `{"handle":101,"type":"object","properties":[
		{"name":"a","value":{"handle":112,"type":"number","value":99}}]}`,
	"102": `{"handle":102,"type":"object","properties":[]}`,
}

// autoRespond 对会话发出的命令自动应答，模拟调试服务端
func autoRespond(transport *fakeTransport) {
	transport.setOnSend(func(request sentRequest) {
		switch request.Command {
		case "backtrace":
			transport.deliver(successReply(request.Seq, request.Command, backtraceReplyBody))
		case "lookup":
			args := protocol.LookupArguments{}
			if err := json.Unmarshal(request.Arguments, &args); err != nil {
				return
			}
			entries := make([]string, 0, len(args.Handles))
			for _, handle := range args.Handles {
				key := fmt.Sprintf("%d", handle)
				if record, ok := lookupRecords[key]; ok {
					entries = append(entries, fmt.Sprintf(`"%s":%s`, key, record))
				}
			}
			transport.deliver(successReply(request.Seq, request.Command, "{"+strings.Join(entries, ",")+"}"))
		case "evaluate":
			transport.deliver(successReply(request.Seq, request.Command,
				`{"handle":40,"type":"number","value":7,"text":"7"}`))
		case "continue":
			transport.deliver(successReply(request.Seq, request.Command, "{}"))
		}
	})
}

const breakEventMessage = `{"seq":5,"type":"event","event":"break",
	"body":{"sourceLine":3,"sourceColumn":2,"script":{"name":"a.js"},"breakpoints":[7]}}`

const runningEventMessage = `{"seq":6,"type":"event","event":"running"}`

// suspendSession 投递break事件并等待栈帧快照构建完成
func suspendSession(t *testing.T, s *DebugSession, transport *fakeTransport) []*CallFrame {
	t.Helper()
	transport.deliver(breakEventMessage)
	waitUntil(t, func() bool { return s.Status() == utils.Suspended })
	frames, err := s.CallFrames()
	assert.Nil(t, err)
	return frames
}

func TestSessionSuspendBuildsFrames(t *testing.T) {
	transport := newFakeTransport()
	autoRespond(transport)
	s := Attach(transport)
	assert.Equal(t, utils.Running, s.Status())

	frames := suspendSession(t, s, transport)
	assert.Equal(t, 2, len(frames))
	assert.Equal(t, int64(1), s.Generation())

	inner := frames[0]
	assert.Equal(t, 0, inner.Index())
	assert.Equal(t, "inner", inner.FunctionName())
	assert.Equal(t, "a.js", inner.ScriptName())
	assert.Equal(t, 3, inner.Line())
	assert.Equal(t, 2, inner.Column())

	scopes, err := inner.Scopes()
	assert.Nil(t, err)
	assert.Equal(t, 1, len(scopes))
	assert.Equal(t, constants.ScopeLocal, scopes[0].Type())

	outer := frames[1]
	outerScopes, err := outer.Scopes()
	assert.Nil(t, err)
	assert.Equal(t, 2, len(outerScopes))
	assert.Equal(t, constants.ScopeGlobal, outerScopes[1].Type())
}

func TestSessionScopeVariables(t *testing.T) {
	transport := newFakeTransport()
	autoRespond(transport)
	s := Attach(transport)

	frames := suspendSession(t, s, transport)
	scopes, err := frames[0].Scopes()
	assert.Nil(t, err)
	variables, err := scopes[0].Variables()
	assert.Nil(t, err)
	assert.Equal(t, 2, len(variables))
	assert.Equal(t, "a", variables[0].Name())
	assert.Equal(t, "1", variables[0].Mirror().Text())
	assert.Equal(t, "b", variables[1].Name())
	assert.Equal(t, "hi", variables[1].Mirror().Text())
}

func TestSessionLookupVariable(t *testing.T) {
	transport := newFakeTransport()
	autoRespond(transport)
	s := Attach(transport)
	frames := suspendSession(t, s, transport)

	// inner和outer的局部作用域都有a，各自拿到自己的值
	mirror, found, err := frames[0].LookupVariable("a")
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", mirror.Text())

	mirror, found, err = frames[1].LookupVariable("a")
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, "99", mirror.Text())

	// 不存在的名称不算错误
	_, found, err = frames[0].LookupVariable("zz")
	assert.Nil(t, err)
	assert.False(t, found)
}

func TestSessionResumeInvalidatesFrames(t *testing.T) {
	transport := newFakeTransport()
	autoRespond(transport)
	s := Attach(transport)
	frames := suspendSession(t, s, transport)
	scopes, _ := frames[0].Scopes()
	scopeObject := scopes[0].Object()

	transport.deliver(runningEventMessage)
	waitUntil(t, func() bool { return s.Status() == utils.Running })
	assert.Equal(t, int64(2), s.Generation())

	_, err := s.CallFrames()
	assert.True(t, errors.Is(err, e.ErrNotSuspended))
	_, err = frames[0].Scopes()
	assert.True(t, errors.Is(err, e.ErrStaleReference))
	_, err = s.Mirrors().SubpropertiesSync(scopeObject)
	assert.True(t, errors.Is(err, e.ErrStaleReference))
}

func TestSessionStepSendsContinueWithAction(t *testing.T) {
	transport := newFakeTransport()
	autoRespond(transport)
	s := Attach(transport)
	suspendSession(t, s, transport)

	before := transport.requestCount()
	assert.Nil(t, s.StepOver(nil, nil))
	request := transport.requestAt(before)
	assert.Equal(t, "continue", request.Command)
	args := protocol.ContinueArguments{}
	assert.Nil(t, json.Unmarshal(request.Arguments, &args))
	assert.Equal(t, constants.StepOver, args.StepAction)
	assert.Equal(t, 1, args.StepCount)
}

func TestSessionStepRequiresSuspended(t *testing.T) {
	transport := newFakeTransport()
	s := Attach(transport)

	assert.True(t, errors.Is(s.Resume(nil, nil), e.ErrNotSuspended))
	assert.True(t, errors.Is(s.StepIn(nil, nil), e.ErrNotSuspended))
	assert.Equal(t, 0, transport.requestCount())
}

func TestSessionEvaluateSync(t *testing.T) {
	transport := newFakeTransport()
	autoRespond(transport)
	s := Attach(transport)

	mirror, err := s.EvaluateSync("1 + 6", nil)
	assert.Nil(t, err)
	assert.Equal(t, "7", mirror.Text())
	assert.Equal(t, constants.ValueNumber, mirror.Type())

	args := protocol.EvaluateArguments{}
	assert.Nil(t, json.Unmarshal(transport.requestAt(0).Arguments, &args))
	assert.Equal(t, "1 + 6", args.Expression)
	assert.True(t, args.Global)
}

func TestSessionSubscribersNotifiedInOrder(t *testing.T) {
	transport := newFakeTransport()
	s := Attach(transport)

	var lock sync.Mutex
	var order []string
	s.Subscribe(func(event *protocol.Event) {
		lock.Lock()
		order = append(order, "first:"+string(event.Event))
		lock.Unlock()
	})
	s.Subscribe(func(event *protocol.Event) {
		lock.Lock()
		order = append(order, "second:"+string(event.Event))
		lock.Unlock()
	})

	// 无法解析的报文被丢弃，不影响后续派发
	transport.deliver("this is not json")
	transport.deliver(`{"seq":9,"type":"event","event":"afterCompile","body":{"script":{"id":3,"name":"b.js"}}}`)
	waitUntil(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(order) == 2
	})
	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, []string{"first:afterCompile", "second:afterCompile"}, order)
}

func TestSessionSubscriberCannotBlockOnFrames(t *testing.T) {
	transport := newFakeTransport()
	autoRespond(transport)
	s := Attach(transport)

	errs := make(chan error, 1)
	s.Subscribe(func(event *protocol.Event) {
		if event.IsSuspendEvent() {
			// backtrace应答还在队列里，在派发协程上等待会死锁
			_, err := s.CallFrames()
			errs <- err
		}
	})
	transport.deliver(breakEventMessage)
	assert.True(t, errors.Is(<-errs, e.ErrWouldDeadlock))
}

func TestSessionResponseRefsSeedCache(t *testing.T) {
	transport := newFakeTransport()
	s := Attach(transport)

	// 应答附带的引用表先入缓存，即使应答本身没有匹配的请求
	transport.deliver(`{"seq":1,"type":"response","request_seq":999,"command":"lookup","success":true,"running":false,
		"body":{},"refs":[{"handle":200,"type":"string","text":"seeded"}]}`)
	waitUntil(t, func() bool {
		_, ok := s.Mirrors().Resolve(200)
		return ok
	})
	mirror, _ := s.Mirrors().Resolve(200)
	assert.Equal(t, "seeded", mirror.Text())
}

func TestSessionTransportClosed(t *testing.T) {
	transport := newFakeTransport()
	s := Attach(transport)

	var pendingErr error
	assert.Nil(t, s.Pause(func(body json.RawMessage, err error) {
		pendingErr = err
	}, nil))

	closedReason := make(chan error, 1)
	s.SetClosedHandler(func(reason error) {
		closedReason <- reason
	})
	transport.disconnect(errors.New("connection reset"))
	// closedHandler在所有未完成请求失败之后触发
	reason := <-closedReason
	assert.NotNil(t, reason)
	assert.Equal(t, utils.Closed, s.Status())
	assert.True(t, errors.Is(pendingErr, e.ErrConnectionClosed))

	// 会话关闭后不再接受请求
	_, err := s.Correlator().Send(constants.ContinueCommand, nil, nil, nil)
	assert.True(t, errors.Is(err, e.ErrConnectionClosed))
}
