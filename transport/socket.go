package transport

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// SocketTransport 基于tcp连接的传输实现
// 报文使用Content-Length头封帧：
//
//	Content-Length: 123\r\n
//	\r\n
//	{...json...}
type SocketTransport struct {
	conn net.Conn
	rw   *bufio.ReadWriter

	onMessage func(raw []byte)
	onClosed  func(reason error)

	writeLock sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial 连接远程调试服务
func Dial(address string) (*SocketTransport, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s fail: %w", address, err)
	}
	return NewSocketTransport(conn), nil
}

// NewSocketTransport 在已有连接上创建传输
func NewSocketTransport(conn net.Conn) *SocketTransport {
	return &SocketTransport{
		conn:   conn,
		rw:     bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		closed: make(chan struct{}),
	}
}

// SetHandler 注册回调并启动收包循环
func (t *SocketTransport) SetHandler(onMessage func(raw []byte), onClosed func(reason error)) {
	t.onMessage = onMessage
	t.onClosed = onClosed
	go t.readLoop()
}

// Send 封帧并发送一条报文
func (t *SocketTransport) Send(data []byte) error {
	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	select {
	case <-t.closed:
		return fmt.Errorf("transport is closed")
	default:
	}
	if _, err := fmt.Fprintf(t.rw, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		t.closeWithReason(err)
		return err
	}
	if _, err := t.rw.Write(data); err != nil {
		t.closeWithReason(err)
		return err
	}
	if err := t.rw.Flush(); err != nil {
		t.closeWithReason(err)
		return err
	}
	return nil
}

// Close 主动关闭连接
func (t *SocketTransport) Close() error {
	t.closeWithReason(nil)
	return nil
}

// readLoop 收包循环，读出错即认为连接关闭
func (t *SocketTransport) readLoop() {
	for {
		raw, err := t.readMessage()
		if err != nil {
			if err != io.EOF {
				logrus.Warnf("[SocketTransport] read fail, err = %v", err)
			}
			t.closeWithReason(err)
			return
		}
		if t.onMessage != nil {
			t.onMessage(raw)
		}
	}
}

// readMessage 读取一条完整报文
func (t *SocketTransport) readMessage() ([]byte, error) {
	contentLength := -1
	for {
		line, err := t.rw.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		// 空行表示头部结束
		if line == "" {
			break
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			contentLength, err = strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
		}
	}
	if contentLength < 0 {
		return nil, fmt.Errorf("message without Content-Length header")
	}
	data := make([]byte, contentLength)
	if _, err := io.ReadFull(t.rw, data); err != nil {
		return nil, err
	}
	return data, nil
}

// closeWithReason 关闭连接并触发onClosed，保证只触发一次
func (t *SocketTransport) closeWithReason(reason error) {
	t.closeOnce.Do(func() {
		close(t.closed)
		_ = t.conn.Close()
		if t.onClosed != nil {
			if reason == io.EOF {
				reason = nil
			}
			t.onClosed(reason)
		}
	})
}
