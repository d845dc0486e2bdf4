package expect

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// Transport 控制台字节流。实现方必须把"本次窗口内无数据"（返回 0, nil）
// 与"流已结束"（返回 io.EOF）区分开，引擎据此分辨读超时与链路关闭。
type Transport interface {
	io.Writer
	// ReadTimeout 在 timeout 窗口内读取可用字节；窗口内无数据到达时返回 (0, nil)
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// TCPTransport 通过 TCP 连接 VirtualBox uart tcpserver 端口，
// 等价于原先 socat/telnet 的串口桥接方式（telnet 在 vbox 上有双回车问题）。
type TCPTransport struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

// DialConsole 连接串口桥接端口
func DialConsole(addr string, timeout time.Duration) (*TCPTransport, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &TCPTransport{conn: conn}, nil
}

// NewTCPTransport 用已建立的连接构造（测试与复用场景）
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{conn: conn}
}

func (t *TCPTransport) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

func (t *TCPTransport) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			// 窗口内没有数据，不是错误
			return n, nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return n, io.EOF
		}
		return n, err
	}
	return n, nil
}

// Close 幂等关闭底层连接
func (t *TCPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
