package protocol

import "errors"

var (
	// ErrNeedMore 缓冲中尚无完整记录
	ErrNeedMore = errors.New("incomplete packet")
	// ErrDesync 头部长度不可信，缓冲已清空
	ErrDesync = errors.New("stream desynchronized")
)

// Framer 字节流拆包器：按头部 size 累积字节，凑齐一条记录再解码。
// TCP 可能合并或拆分写入，不能假设一次 Read 恰好是一个封包。
// 非并发安全，由持有连接的一方独占使用。
type Framer struct {
	buf []byte
}

// Write 追加收到的字节（会复制，调用方可复用 b）
func (f *Framer) Write(b []byte) (int, error) {
	f.buf = append(f.buf, b...)
	return len(b), nil
}

// Buffered 当前未消费的字节数
func (f *Framer) Buffered() int { return len(f.buf) }

// Reset 丢弃所有缓冲
func (f *Framer) Reset() { f.buf = f.buf[:0] }

// Next 取出下一条记录。
// 返回 ErrNeedMore 表示需要更多字节；*DecodeError 表示该记录已被跳过；
// ErrDesync 表示缓冲已被整体丢弃。后两种情况下可以继续调用 Next。
func (f *Framer) Next() (Packet, error) {
	size, _, err := ReadHeader(f.buf)
	if err != nil {
		return nil, ErrNeedMore
	}
	if int(size) < HeaderSize || int(size) > MaxFrameSize {
		f.Reset()
		return nil, ErrDesync
	}
	if len(f.buf) < int(size) {
		return nil, ErrNeedMore
	}

	record := f.buf[:size]
	p, derr := Decode(record)
	f.consume(int(size))
	if derr != nil {
		return nil, derr
	}
	return p, nil
}

func (f *Framer) consume(n int) {
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
}
