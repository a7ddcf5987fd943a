// Package protocol 定义客户端与服务端之间的二进制封包格式
// 所有封包：4 字节头部 {size u16, type u16} + 定长负载，小端，无填充
package protocol

// Type 封包类型码（兼容性契约，禁止重新分配）
type Type uint16

const (
	TypePlayerUpdate Type = 1
	TypePlayerSpawn  Type = 2
	TypeTigerSpawn   Type = 3
	TypeTigerUpdate  Type = 4
	TypeTigerRemove  Type = 5
	TypePlayerRemove Type = 6
)

// HeaderSize 固定头部长度：Size(2) + Type(2)
const HeaderSize = 4

// 各类型封包的总长度（头部 + 负载）
const (
	PlayerUpdateSize = HeaderSize + 4 + 4*4
	PlayerSpawnSize  = HeaderSize + 4
	TigerSpawnSize   = HeaderSize + 4 + 3*4
	TigerUpdateSize  = HeaderSize + 4 + 4*4
	TigerRemoveSize  = HeaderSize + 4
	PlayerRemoveSize = HeaderSize + 4
)

// MaxPacketSize 当前最大的合法封包长度
const MaxPacketSize = PlayerUpdateSize

// MaxFrameSize 流式拆包时可接受的最大记录长度，超出视为流已失步
const MaxFrameSize = 1024

var packetSizes = map[Type]int{
	TypePlayerUpdate: PlayerUpdateSize,
	TypePlayerSpawn:  PlayerSpawnSize,
	TypeTigerSpawn:   TigerSpawnSize,
	TypeTigerUpdate:  TigerUpdateSize,
	TypeTigerRemove:  TigerRemoveSize,
	TypePlayerRemove: PlayerRemoveSize,
}

// SizeOf 返回类型对应的固定长度；未知类型返回 false
func SizeOf(t Type) (int, bool) {
	n, ok := packetSizes[t]
	return n, ok
}

func (t Type) String() string {
	switch t {
	case TypePlayerUpdate:
		return "PlayerUpdate"
	case TypePlayerSpawn:
		return "PlayerSpawn"
	case TypeTigerSpawn:
		return "TigerSpawn"
	case TypeTigerUpdate:
		return "TigerUpdate"
	case TypeTigerRemove:
		return "TigerRemove"
	case TypePlayerRemove:
		return "PlayerRemove"
	default:
		return "Unknown"
	}
}

// Packet 任意一种封包；接口封闭，只有本包内的类型可以实现
type Packet interface {
	Type() Type
	putPayload(b []byte)
}

// PlayerUpdate 双向：客户端上报自身姿态，或服务端转发其他玩家姿态
type PlayerUpdate struct {
	ClientID int32
	X, Y, Z  float32
	RotY     float32
}

// PlayerSpawn 服务端 → 客户端：某个玩家会话已存在
type PlayerSpawn struct {
	PlayerID int32
}

// PlayerRemove 服务端 → 客户端：某个玩家已断开
type PlayerRemove struct {
	PlayerID int32
}

// TigerSpawn 服务端 → 客户端：NPC 出现
type TigerSpawn struct {
	TigerID int32
	X, Y, Z float32
}

// TigerUpdate 服务端 → 客户端：NPC 权威姿态
type TigerUpdate struct {
	TigerID int32
	X, Y, Z float32
	RotY    float32
}

// TigerRemove 服务端 → 客户端：NPC 消失
type TigerRemove struct {
	TigerID int32
}

func (PlayerUpdate) Type() Type { return TypePlayerUpdate }
func (PlayerSpawn) Type() Type  { return TypePlayerSpawn }
func (PlayerRemove) Type() Type { return TypePlayerRemove }
func (TigerSpawn) Type() Type   { return TypeTigerSpawn }
func (TigerUpdate) Type() Type  { return TypeTigerUpdate }
func (TigerRemove) Type() Type  { return TypeTigerRemove }
