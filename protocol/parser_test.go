package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fansqz/v8-debug-client/constants"
	e "github.com/fansqz/v8-debug-client/error"
)

func TestParseLegacyResponse(t *testing.T) {
	parser := NewParser()
	message, err := parser.Parse([]byte(`{
		"seq": 12, "type": "response", "request_seq": 3, "command": "backtrace",
		"success": true, "running": false,
		"body": {"totalFrames": 1},
		"refs": [{"handle": 10, "type": "string", "text": "hi"}]
	}`))
	assert.Nil(t, err)

	response, ok := message.(*Response)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), response.RequestSeq)
	assert.Equal(t, "backtrace", response.Command)
	assert.True(t, response.Success)
	assert.Equal(t, 1, len(response.Refs))
	assert.Equal(t, int64(10), response.Refs[0].Handle)
}

func TestParseLegacyFailureResponse(t *testing.T) {
	parser := NewParser()
	message, err := parser.Parse([]byte(`{
		"seq": 12, "type": "response", "request_seq": 3, "command": "evaluate",
		"success": false, "message": "ReferenceError", "running": true
	}`))
	assert.Nil(t, err)

	response := message.(*Response)
	assert.False(t, response.Success)
	assert.Equal(t, "ReferenceError", response.Message)
	assert.True(t, response.Running)
}

func TestParseLegacyEvent(t *testing.T) {
	parser := NewParser()
	message, err := parser.Parse([]byte(`{
		"seq": 5, "type": "event", "event": "break",
		"body": {"sourceLine": 3, "script": {"name": "a.js"}, "breakpoints": [7]}
	}`))
	assert.Nil(t, err)

	event, ok := message.(*Event)
	assert.True(t, ok)
	assert.Equal(t, constants.BreakEvent, event.Event)
	assert.True(t, event.IsSuspendEvent())
	assert.False(t, event.IsResumeEvent())
}

func TestParseDomainResponse(t *testing.T) {
	parser := NewParser()
	message, err := parser.Parse([]byte(`{"id": 9, "result": {"value": 1}}`))
	assert.Nil(t, err)

	response, ok := message.(*Response)
	assert.True(t, ok)
	assert.Equal(t, uint64(9), response.RequestSeq)
	assert.True(t, response.Success)
	assert.JSONEq(t, `{"value": 1}`, string(response.Body))
}

func TestParseDomainErrorResponse(t *testing.T) {
	parser := NewParser()
	message, err := parser.Parse([]byte(`{"id": 9, "error": {"code": -32000, "message": "not paused"}}`))
	assert.Nil(t, err)

	response := message.(*Response)
	assert.False(t, response.Success)
	assert.Equal(t, "not paused", response.Message)
}

func TestParseDomainEvents(t *testing.T) {
	parser := NewParser()
	cases := map[string]constants.DebugEventType{
		"Debugger.paused":       constants.BreakEvent,
		"Debugger.resumed":      constants.RunningEvent,
		"Debugger.scriptParsed": constants.AfterCompileEvent,
	}
	for method, expected := range cases {
		message, err := parser.Parse([]byte(`{"method": "` + method + `", "params": {}}`))
		assert.Nil(t, err)
		event := message.(*Event)
		assert.Equal(t, expected, event.Event)
	}
}

func TestParseRejectsMalformedMessages(t *testing.T) {
	parser := NewParser()
	for _, raw := range []string{
		`this is not json`,
		`{"foo": "bar"}`,
		`{"type": "banana"}`,
		`{"type": "event"}`,
		`{"method": "Runtime.whatever"}`,
	} {
		_, err := parser.Parse([]byte(raw))
		assert.NotNil(t, err, raw)
		protocolErr := &e.ProtocolError{}
		assert.True(t, errors.As(err, &protocolErr), raw)
	}
}
