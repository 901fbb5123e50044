package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// sentRequest 测试中解码后的已发送请求
type sentRequest struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments"`
}

// fakeTransport 内存传输，记录发出的请求并允许测试注入报文
type fakeTransport struct {
	lock     sync.Mutex
	requests []sentRequest
	sendErr  error
	// onSend 发送钩子，测试用它对请求同步注入应答
	onSend func(request sentRequest)

	onMessage func(raw []byte)
	onClosed  func(reason error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (t *fakeTransport) Send(data []byte) error {
	t.lock.Lock()
	if t.sendErr != nil {
		err := t.sendErr
		t.lock.Unlock()
		return err
	}
	request := sentRequest{}
	if err := json.Unmarshal(data, &request); err != nil {
		t.lock.Unlock()
		return fmt.Errorf("fake transport: undecodable request: %w", err)
	}
	t.requests = append(t.requests, request)
	onSend := t.onSend
	t.lock.Unlock()
	if onSend != nil {
		onSend(request)
	}
	return nil
}

func (t *fakeTransport) SetHandler(onMessage func(raw []byte), onClosed func(reason error)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onMessage = onMessage
	t.onClosed = onClosed
}

func (t *fakeTransport) Close() error {
	t.lock.Lock()
	onClosed := t.onClosed
	t.onClosed = nil
	t.lock.Unlock()
	if onClosed != nil {
		onClosed(nil)
	}
	return nil
}

// setOnSend 注册发送钩子
func (t *fakeTransport) setOnSend(onSend func(request sentRequest)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onSend = onSend
}

// deliver 模拟服务端推送一条报文
func (t *fakeTransport) deliver(raw string) {
	t.lock.Lock()
	onMessage := t.onMessage
	t.lock.Unlock()
	if onMessage != nil {
		onMessage([]byte(raw))
	}
}

// disconnect 模拟连接断开
func (t *fakeTransport) disconnect(reason error) {
	t.lock.Lock()
	onClosed := t.onClosed
	t.onClosed = nil
	t.lock.Unlock()
	if onClosed != nil {
		onClosed(reason)
	}
}

// requestCount 已发送的请求数量
func (t *fakeTransport) requestCount() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.requests)
}

// requestAt 第i条已发送的请求
func (t *fakeTransport) requestAt(i int) sentRequest {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.requests[i]
}

// lastRequest 最后一条已发送的请求
func (t *fakeTransport) lastRequest() sentRequest {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.requests[len(t.requests)-1]
}

// waitRequest 等待第i条请求出现
func (t *fakeTransport) waitRequest(test *testing.T, i int) sentRequest {
	test.Helper()
	waitUntil(test, func() bool { return t.requestCount() > i })
	return t.requestAt(i)
}

// successReply 构造一条legacy协议的成功应答报文
func successReply(requestSeq uint64, command string, body string) string {
	if body == "" {
		body = "{}"
	}
	return fmt.Sprintf(`{"seq":1000,"type":"response","request_seq":%d,"command":"%s","success":true,"running":false,"body":%s}`,
		requestSeq, command, body)
}

// failureReply 构造一条legacy协议的失败应答报文
func failureReply(requestSeq uint64, command string, message string) string {
	return fmt.Sprintf(`{"seq":1000,"type":"response","request_seq":%d,"command":"%s","success":false,"message":"%s","running":false}`,
		requestSeq, command, message)
}

// waitUntil 轮询等待条件成立，超时直接失败
func waitUntil(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
