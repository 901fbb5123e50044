package transport

// Transport 传输层边界
// 负责报文的封帧和收发，core只依赖这个接口
type Transport interface {
	// Send 发送一条完整报文
	Send(data []byte) error
	// SetHandler 注册收包和连接关闭的回调，必须在启动收包前调用
	// onClosed在连接关闭时触发，且只会触发一次
	SetHandler(onMessage func(raw []byte), onClosed func(reason error))
	// Close 主动关闭连接
	Close() error
}
