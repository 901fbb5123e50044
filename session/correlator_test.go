package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fansqz/v8-debug-client/constants"
	e "github.com/fansqz/v8-debug-client/error"
	"github.com/fansqz/v8-debug-client/protocol"
	"github.com/fansqz/v8-debug-client/utils"
)

func TestCorrelatorAssignsIncreasingSeq(t *testing.T) {
	transport := newFakeTransport()
	correlator := NewRequestCorrelator(transport)

	seq1, err := correlator.Send(constants.ContinueCommand, nil, nil, nil)
	assert.Nil(t, err)
	seq2, err := correlator.Send(constants.SuspendCommand, nil, nil, nil)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, uint64(2), seq2)
	assert.Equal(t, 2, transport.requestCount())
	assert.Equal(t, "continue", transport.requestAt(0).Command)
	assert.Equal(t, "request", transport.requestAt(0).Type)
	assert.Equal(t, seq1, transport.requestAt(0).Seq)
}

func TestCorrelatorRoutesReplyToCallback(t *testing.T) {
	transport := newFakeTransport()
	correlator := NewRequestCorrelator(transport)

	var gotBody json.RawMessage
	var gotErr error
	done := make(chan struct{})
	seq, err := correlator.Send(constants.BacktraceCommand, nil, func(body json.RawMessage, err error) {
		gotBody = body
		gotErr = err
	}, done)
	assert.Nil(t, err)
	assert.Equal(t, 1, correlator.PendingCount())

	correlator.HandleResponse(&protocol.Response{
		RequestSeq: seq,
		Success:    true,
		Body:       json.RawMessage(`{"totalFrames":3}`),
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done not fired")
	}
	assert.Nil(t, gotErr)
	assert.JSONEq(t, `{"totalFrames":3}`, string(gotBody))
	assert.Equal(t, 0, correlator.PendingCount())
}

func TestCorrelatorReportsRequestFailure(t *testing.T) {
	transport := newFakeTransport()
	correlator := NewRequestCorrelator(transport)

	var gotErr error
	seq, _ := correlator.Send(constants.EvaluateCommand, nil, func(body json.RawMessage, err error) {
		gotErr = err
	}, nil)
	correlator.HandleResponse(&protocol.Response{
		RequestSeq: seq,
		Success:    false,
		Message:    "ReferenceError: x is not defined",
	})

	failure := &e.RequestFailure{}
	assert.True(t, errors.As(gotErr, &failure))
	assert.Equal(t, "evaluate", failure.Command)
	assert.Equal(t, "ReferenceError: x is not defined", failure.Message)
}

func TestCorrelatorDropsUnknownSeq(t *testing.T) {
	transport := newFakeTransport()
	correlator := NewRequestCorrelator(transport)

	called := false
	seq, _ := correlator.Send(constants.LookupCommand, nil, func(body json.RawMessage, err error) {
		called = true
	}, nil)

	// 未知序列号的应答被丢弃，已有请求不受影响
	correlator.HandleResponse(&protocol.Response{RequestSeq: seq + 100, Success: true})
	assert.False(t, called)
	assert.Equal(t, 1, correlator.PendingCount())
}

func TestCorrelatorCallbackFiresAtMostOnce(t *testing.T) {
	transport := newFakeTransport()
	correlator := NewRequestCorrelator(transport)

	calls := 0
	seq, _ := correlator.Send(constants.ContinueCommand, nil, func(body json.RawMessage, err error) {
		calls++
	}, nil)
	response := &protocol.Response{RequestSeq: seq, Success: true}
	correlator.HandleResponse(response)
	// 重复的应答按未知序列号丢弃
	correlator.HandleResponse(response)
	assert.Equal(t, 1, calls)
}

func TestCorrelatorFailAll(t *testing.T) {
	transport := newFakeTransport()
	correlator := NewRequestCorrelator(transport)

	var gotErrs []error
	for i := 0; i < 3; i++ {
		_, _ = correlator.Send(constants.LookupCommand, nil, func(body json.RawMessage, err error) {
			gotErrs = append(gotErrs, err)
		}, nil)
	}
	correlator.FailAll(errors.New("connection reset"))

	assert.Equal(t, 3, len(gotErrs))
	for _, err := range gotErrs {
		assert.True(t, errors.Is(err, e.ErrConnectionClosed))
	}
	assert.Equal(t, 0, correlator.PendingCount())

	// 关闭后不再接受新请求，重复FailAll不会重复完成
	_, err := correlator.Send(constants.ContinueCommand, nil, nil, nil)
	assert.True(t, errors.Is(err, e.ErrConnectionClosed))
	correlator.FailAll(nil)
	assert.Equal(t, 3, len(gotErrs))
}

func TestCorrelatorSendFailsWhenTransportBroken(t *testing.T) {
	transport := newFakeTransport()
	transport.sendErr = errors.New("broken pipe")
	correlator := NewRequestCorrelator(transport)

	// 发送失败只通过返回值报告一次，回调和完成信号都不触发
	calls := 0
	done := make(chan struct{})
	_, err := correlator.Send(constants.ContinueCommand, nil, func(body json.RawMessage, err error) {
		calls++
	}, done)
	assert.True(t, errors.Is(err, e.ErrConnectionClosed))
	assert.Equal(t, 0, calls)
	select {
	case <-done:
		t.Fatal("done must not fire on send failure")
	default:
	}
	assert.Equal(t, 0, correlator.PendingCount())
}

func TestCorrelatorSendSync(t *testing.T) {
	transport := newFakeTransport()
	correlator := NewRequestCorrelator(transport)
	transport.setOnSend(func(request sentRequest) {
		correlator.HandleResponse(&protocol.Response{
			RequestSeq: request.Seq,
			Success:    true,
			Body:       json.RawMessage(`{"value":1}`),
		})
	})

	body, err := correlator.SendSync(constants.EvaluateCommand, nil)
	assert.Nil(t, err)
	assert.JSONEq(t, `{"value":1}`, string(body))
}

func TestCorrelatorSendSyncOnDispatcherWouldDeadlock(t *testing.T) {
	transport := newFakeTransport()
	correlator := NewRequestCorrelator(transport)
	correlator.bindDispatcher(utils.GetGoroutineID())

	start := time.Now()
	_, err := correlator.SendSync(constants.EvaluateCommand, nil)
	assert.True(t, errors.Is(err, e.ErrWouldDeadlock))
	// 必须立刻返回而不是阻塞等待
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, transport.requestCount())
}
