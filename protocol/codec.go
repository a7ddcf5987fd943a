package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// 解码失败原因，可用 errors.Is 判断
var (
	ErrShortHeader   = errors.New("buffer shorter than header")
	ErrUnknownType   = errors.New("unknown packet type")
	ErrSizeMismatch  = errors.New("size field does not match packet type")
	ErrShortPacket   = errors.New("buffer shorter than size field")
	ErrTrailingBytes = errors.New("buffer longer than size field")
)

// DecodeError 协议错误：封包被丢弃，连接继续
type DecodeError struct {
	Reason error
	Size   uint16 // 头部声明的长度
	Type   Type   // 头部声明的类型
	Len    int    // 实际缓冲区长度
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode packet (type=%d size=%d len=%d): %v", e.Type, e.Size, e.Len, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Reason }

var le = binary.LittleEndian

// Encode 序列化封包，结果长度恰为头部中的 size
func Encode(p Packet) []byte {
	size, ok := SizeOf(p.Type())
	if !ok {
		panic(fmt.Sprintf("protocol: no size registered for %s", p.Type()))
	}
	buf := make([]byte, size)
	le.PutUint16(buf[0:2], uint16(size))
	le.PutUint16(buf[2:4], uint16(p.Type()))
	p.putPayload(buf[HeaderSize:])
	return buf
}

// ReadHeader 读取头部；缓冲不足时返回 ErrShortHeader
func ReadHeader(data []byte) (size uint16, t Type, err error) {
	if len(data) < HeaderSize {
		return 0, 0, ErrShortHeader
	}
	return le.Uint16(data[0:2]), Type(le.Uint16(data[2:4])), nil
}

// Decode 解析恰好一个封包。校验顺序：头部长度 → size 等于类型的固定长度 → 缓冲长度。
// 未知类型没有固定长度，在 size 检查这一步以 ErrUnknownType 报出。
func Decode(data []byte) (Packet, error) {
	size, t, err := ReadHeader(data)
	if err != nil {
		return nil, &DecodeError{Reason: err, Len: len(data)}
	}
	derr := func(reason error) error {
		return &DecodeError{Reason: reason, Size: size, Type: t, Len: len(data)}
	}

	expected, ok := SizeOf(t)
	if !ok {
		return nil, derr(ErrUnknownType)
	}
	if int(size) != expected {
		return nil, derr(ErrSizeMismatch)
	}
	if len(data) < expected {
		return nil, derr(ErrShortPacket)
	}
	if len(data) > expected {
		return nil, derr(ErrTrailingBytes)
	}

	b := data[HeaderSize:]
	switch t {
	case TypePlayerUpdate:
		return PlayerUpdate{
			ClientID: getI32(b[0:]),
			X:        getF32(b[4:]),
			Y:        getF32(b[8:]),
			Z:        getF32(b[12:]),
			RotY:     getF32(b[16:]),
		}, nil
	case TypePlayerSpawn:
		return PlayerSpawn{PlayerID: getI32(b)}, nil
	case TypePlayerRemove:
		return PlayerRemove{PlayerID: getI32(b)}, nil
	case TypeTigerSpawn:
		return TigerSpawn{
			TigerID: getI32(b[0:]),
			X:       getF32(b[4:]),
			Y:       getF32(b[8:]),
			Z:       getF32(b[12:]),
		}, nil
	case TypeTigerUpdate:
		return TigerUpdate{
			TigerID: getI32(b[0:]),
			X:       getF32(b[4:]),
			Y:       getF32(b[8:]),
			Z:       getF32(b[12:]),
			RotY:    getF32(b[16:]),
		}, nil
	case TypeTigerRemove:
		return TigerRemove{TigerID: getI32(b)}, nil
	}
	return nil, derr(ErrUnknownType)
}

func (p PlayerUpdate) putPayload(b []byte) {
	putI32(b[0:], p.ClientID)
	putF32(b[4:], p.X)
	putF32(b[8:], p.Y)
	putF32(b[12:], p.Z)
	putF32(b[16:], p.RotY)
}

func (p PlayerSpawn) putPayload(b []byte)  { putI32(b, p.PlayerID) }
func (p PlayerRemove) putPayload(b []byte) { putI32(b, p.PlayerID) }

func (p TigerSpawn) putPayload(b []byte) {
	putI32(b[0:], p.TigerID)
	putF32(b[4:], p.X)
	putF32(b[8:], p.Y)
	putF32(b[12:], p.Z)
}

func (p TigerUpdate) putPayload(b []byte) {
	putI32(b[0:], p.TigerID)
	putF32(b[4:], p.X)
	putF32(b[8:], p.Y)
	putF32(b[12:], p.Z)
	putF32(b[16:], p.RotY)
}

func (p TigerRemove) putPayload(b []byte) { putI32(b, p.TigerID) }

func putI32(b []byte, v int32)   { le.PutUint32(b, uint32(v)) }
func putF32(b []byte, v float32) { le.PutUint32(b, math.Float32bits(v)) }
func getI32(b []byte) int32      { return int32(le.Uint32(b)) }
func getF32(b []byte) float32    { return math.Float32frombits(le.Uint32(b)) }
