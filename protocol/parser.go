package protocol

import (
	"encoding/json"

	"github.com/fansqz/v8-debug-client/constants"
	e "github.com/fansqz/v8-debug-client/error"
)

// Message 解析后的报文，*Response或者*Event
type Message interface {
	isMessage()
}

func (r *Response) isMessage() {}
func (ev *Event) isMessage()   {}

// Parser 报文解析器
// 支持两种协议变体：
// 1. legacy协议，报文通过type字段区分request/response/event
// 2. domain/method协议（devtools风格），应答通过id字段匹配，事件携带method字段
// 两种变体都会被归一化成Response/Event
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// domainMessage domain/method协议变体的报文结构
type domainMessage struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *domainError    `json:"error"`
}

type domainError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// domain协议的事件名映射到legacy事件名
var domainEvents = map[string]constants.DebugEventType{
	"Debugger.paused":       constants.BreakEvent,
	"Debugger.resumed":      constants.RunningEvent,
	"Debugger.scriptParsed": constants.AfterCompileEvent,
}

// Parse 解析一条原始报文
// 无法识别的报文返回ProtocolError，由调用方丢弃该报文，会话继续
func (p *Parser) Parse(raw []byte) (Message, error) {
	var head struct {
		Type   constants.DebugMessageType `json:"type"`
		Method string                     `json:"method"`
		ID     *uint64                    `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, e.NewProtocolError("invalid json: %v", err)
	}
	if head.Type != "" {
		return p.parseLegacy(head.Type, raw)
	}
	if head.Method != "" || head.ID != nil {
		return p.parseDomain(raw)
	}
	return nil, e.NewProtocolError("message carries neither type nor method")
}

// parseLegacy 解析legacy协议报文
func (p *Parser) parseLegacy(typ constants.DebugMessageType, raw []byte) (Message, error) {
	switch typ {
	case constants.ResponseMessage:
		response := &Response{}
		if err := json.Unmarshal(raw, response); err != nil {
			return nil, e.NewProtocolError("invalid response: %v", err)
		}
		return response, nil
	case constants.EventMessage:
		event := &Event{}
		if err := json.Unmarshal(raw, event); err != nil {
			return nil, e.NewProtocolError("invalid event: %v", err)
		}
		if event.Event == "" {
			return nil, e.NewProtocolError("event message without event name")
		}
		return event, nil
	default:
		return nil, e.NewProtocolError("unexpected message type %q", typ)
	}
}

// parseDomain 解析domain/method协议报文并归一化
func (p *Parser) parseDomain(raw []byte) (Message, error) {
	m := &domainMessage{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, e.NewProtocolError("invalid domain message: %v", err)
	}
	// 携带id的是应答
	if m.ID != nil {
		response := &Response{
			RequestSeq: *m.ID,
			Success:    m.Error == nil,
			Body:       m.Result,
		}
		if m.Error != nil {
			response.Message = m.Error.Message
		}
		return response, nil
	}
	eventName, ok := domainEvents[m.Method]
	if !ok {
		return nil, e.NewProtocolError("unknown domain event %q", m.Method)
	}
	return &Event{Event: eventName, Body: m.Params}, nil
}
