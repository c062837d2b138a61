package protocol

import (
	"github.com/google/uuid"
)

// Message is the closed set of session messages. Each variant carries only
// the fields its exchange step needs.
type Message interface {
	// Name is the template name of the message.
	Name() string
	// Key is the canonical wire key used when sending.
	Key() Key
	// Encode writes the payload.
	Encode(b *PacketBuilder)

	sealed()
}

// UseCircuitCode opens a circuit. Layout: code (LE), session, agent.
type UseCircuitCode struct {
	Code      uint32    `json:"code"`
	SessionID uuid.UUID `json:"session_id"`
	AgentID   uuid.UUID `json:"agent_id"`
}

func (UseCircuitCode) Name() string { return "UseCircuitCode" }
func (UseCircuitCode) Key() Key     { return Key{Frequency: FrequencyLow, ID: IDUseCircuitCode} }
func (UseCircuitCode) sealed()      {}

func (m UseCircuitCode) Encode(b *PacketBuilder) {
	b.WriteU32(m.Code).WriteUUID(m.SessionID).WriteUUID(m.AgentID)
}

func decodeUseCircuitCode(r *PacketReader) (Message, error) {
	var (
		m   UseCircuitCode
		err error
	)
	if m.Code, err = r.ReadU32("Code"); err != nil {
		return nil, err
	}
	if m.SessionID, err = r.ReadUUID("SessionID"); err != nil {
		return nil, err
	}
	if m.AgentID, err = r.ReadUUID("ID"); err != nil {
		return nil, err
	}
	return m, nil
}

// UseCircuitCodeReply is the simulator's verdict on a circuit request.
type UseCircuitCodeReply struct {
	Success bool `json:"success"`
}

func (UseCircuitCodeReply) Name() string { return "UseCircuitCodeReply" }
func (UseCircuitCodeReply) Key() Key {
	return Key{Frequency: FrequencyLow, ID: IDUseCircuitCodeReply}
}
func (UseCircuitCodeReply) sealed() {}

func (m UseCircuitCodeReply) Encode(b *PacketBuilder) {
	b.WriteBool(m.Success)
}

func decodeUseCircuitCodeReply(r *PacketReader) (Message, error) {
	ok, err := r.ReadBool("Success")
	if err != nil {
		return nil, err
	}
	return UseCircuitCodeReply{Success: ok}, nil
}

// CompleteAgentMovement asks the simulator to place the agent in-world.
// Only agent, session and circuit code travel; no position is sent.
type CompleteAgentMovement struct {
	AgentID     uuid.UUID `json:"agent_id"`
	SessionID   uuid.UUID `json:"session_id"`
	CircuitCode uint32    `json:"circuit_code"`
}

func (CompleteAgentMovement) Name() string { return "CompleteAgentMovement" }
func (CompleteAgentMovement) Key() Key {
	return Key{Frequency: FrequencyLow, ID: IDCompleteAgentMovement}
}
func (CompleteAgentMovement) sealed() {}

func (m CompleteAgentMovement) Encode(b *PacketBuilder) {
	b.WriteUUID(m.AgentID).WriteUUID(m.SessionID).WriteU32(m.CircuitCode)
}

func decodeCompleteAgentMovement(r *PacketReader) (Message, error) {
	var (
		m   CompleteAgentMovement
		err error
	)
	if m.AgentID, m.SessionID, err = readAgentData(r); err != nil {
		return nil, err
	}
	if m.CircuitCode, err = r.ReadU32("CircuitCode"); err != nil {
		return nil, err
	}
	return m, nil
}

// AgentMovementComplete confirms arrival in-world. The position block is
// optional on the wire.
type AgentMovementComplete struct {
	AgentID      uuid.UUID `json:"agent_id"`
	SessionID    uuid.UUID `json:"session_id"`
	Position     Vector3   `json:"position"`
	LookAt       Vector3   `json:"look_at"`
	RegionHandle uint64    `json:"region_handle"`
	Timestamp    uint32    `json:"timestamp"`
}

func (AgentMovementComplete) Name() string { return "AgentMovementComplete" }
func (AgentMovementComplete) Key() Key {
	return Key{Frequency: FrequencyLow, ID: IDAgentMovementComplete}
}
func (AgentMovementComplete) sealed() {}

func (m AgentMovementComplete) Encode(b *PacketBuilder) {
	b.WriteUUID(m.AgentID).WriteUUID(m.SessionID).
		WriteVector3(m.Position).WriteVector3(m.LookAt).
		WriteU64(m.RegionHandle).WriteU32(m.Timestamp)
}

func decodeAgentMovementComplete(r *PacketReader) (Message, error) {
	var (
		m   AgentMovementComplete
		err error
	)
	if m.AgentID, m.SessionID, err = readAgentData(r); err != nil {
		return nil, err
	}
	if r.Remaining() < 36 {
		return m, nil
	}
	if m.Position, err = r.ReadVector3("Position"); err != nil {
		return nil, err
	}
	if m.LookAt, err = r.ReadVector3("LookAt"); err != nil {
		return nil, err
	}
	if m.RegionHandle, err = r.ReadU64("RegionHandle"); err != nil {
		return nil, err
	}
	if m.Timestamp, err = r.ReadU32("Timestamp"); err != nil {
		return nil, err
	}
	return m, nil
}

// RegionHandshake describes the region the agent arrived in. Fields after
// CacheID are optional on the wire and left zero when absent.
type RegionHandshake struct {
	RegionFlags        uint32       `json:"region_flags"`
	SimAccess          uint8        `json:"sim_access"`
	SimName            string       `json:"sim_name"`
	SimOwner           uuid.UUID    `json:"sim_owner"`
	IsEstateManager    bool         `json:"is_estate_manager"`
	WaterHeight        float32      `json:"water_height"`
	BillableFactor     float32      `json:"billable_factor"`
	CacheID            uuid.UUID    `json:"cache_id"`
	TerrainBase        [4]uuid.UUID `json:"terrain_base"`
	TerrainDetail      [4]uuid.UUID `json:"terrain_detail"`
	TerrainStartHeight [4]float32   `json:"terrain_start_height"`
	TerrainHeightRange [4]float32   `json:"terrain_height_range"`
	RegionID           uuid.UUID    `json:"region_id"`
}

func (RegionHandshake) Name() string { return "RegionHandshake" }
func (RegionHandshake) Key() Key     { return Key{Frequency: FrequencyLow, ID: IDRegionHandshake} }
func (RegionHandshake) sealed()      {}

// terrainBlockSize covers the eight terrain texture ids and eight heights.
const terrainBlockSize = 8*16 + 8*4

func (m RegionHandshake) Encode(b *PacketBuilder) {
	b.WriteU32(m.RegionFlags).WriteU8(m.SimAccess).WriteString(m.SimName).
		WriteUUID(m.SimOwner).WriteBool(m.IsEstateManager).
		WriteF32(m.WaterHeight).WriteF32(m.BillableFactor).WriteUUID(m.CacheID)
	for _, id := range m.TerrainBase {
		b.WriteUUID(id)
	}
	for _, id := range m.TerrainDetail {
		b.WriteUUID(id)
	}
	for _, h := range m.TerrainStartHeight {
		b.WriteF32(h)
	}
	for _, h := range m.TerrainHeightRange {
		b.WriteF32(h)
	}
	b.WriteUUID(m.RegionID)
}

func decodeRegionHandshake(r *PacketReader) (Message, error) {
	var (
		m   RegionHandshake
		err error
	)
	if m.RegionFlags, err = r.ReadU32("RegionFlags"); err != nil {
		return nil, err
	}
	if m.SimAccess, err = r.ReadU8("SimAccess"); err != nil {
		return nil, err
	}
	if m.SimName, err = r.ReadString("SimName"); err != nil {
		return nil, err
	}
	if m.SimOwner, err = r.ReadUUID("SimOwner"); err != nil {
		return nil, err
	}
	if m.IsEstateManager, err = r.ReadBool("IsEstateManager"); err != nil {
		return nil, err
	}
	if m.WaterHeight, err = r.ReadF32("WaterHeight"); err != nil {
		return nil, err
	}
	if m.BillableFactor, err = r.ReadF32("BillableFactor"); err != nil {
		return nil, err
	}
	if m.CacheID, err = r.ReadUUID("CacheID"); err != nil {
		return nil, err
	}

	if r.Remaining() < terrainBlockSize {
		return m, nil
	}
	for i := range m.TerrainBase {
		if m.TerrainBase[i], err = r.ReadUUID("TerrainBase"); err != nil {
			return nil, err
		}
	}
	for i := range m.TerrainDetail {
		if m.TerrainDetail[i], err = r.ReadUUID("TerrainDetail"); err != nil {
			return nil, err
		}
	}
	for i := range m.TerrainStartHeight {
		if m.TerrainStartHeight[i], err = r.ReadF32("TerrainStartHeight"); err != nil {
			return nil, err
		}
	}
	for i := range m.TerrainHeightRange {
		if m.TerrainHeightRange[i], err = r.ReadF32("TerrainHeightRange"); err != nil {
			return nil, err
		}
	}
	if r.Remaining() >= 16 {
		if m.RegionID, err = r.ReadUUID("RegionID"); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegionHandshakeReply acknowledges the region handshake.
type RegionHandshakeReply struct {
	AgentID   uuid.UUID `json:"agent_id"`
	SessionID uuid.UUID `json:"session_id"`
	Flags     uint32    `json:"flags"`
}

func (RegionHandshakeReply) Name() string { return "RegionHandshakeReply" }
func (RegionHandshakeReply) Key() Key {
	return Key{Frequency: FrequencyLow, ID: IDRegionHandshakeReply}
}
func (RegionHandshakeReply) sealed() {}

func (m RegionHandshakeReply) Encode(b *PacketBuilder) {
	b.WriteUUID(m.AgentID).WriteUUID(m.SessionID).WriteU32(m.Flags)
}

func decodeRegionHandshakeReply(r *PacketReader) (Message, error) {
	var (
		m   RegionHandshakeReply
		err error
	)
	if m.AgentID, m.SessionID, err = readAgentData(r); err != nil {
		return nil, err
	}
	if m.Flags, err = r.ReadU32("Flags"); err != nil {
		return nil, err
	}
	return m, nil
}

// AgentThrottle sets per-category bandwidth. Circuit code and the seven
// floats are big-endian.
type AgentThrottle struct {
	AgentID     uuid.UUID  `json:"agent_id"`
	SessionID   uuid.UUID  `json:"session_id"`
	CircuitCode uint32     `json:"circuit_code"`
	Throttles   [7]float32 `json:"throttles"`
}

func (AgentThrottle) Name() string { return "AgentThrottle" }
func (AgentThrottle) Key() Key     { return Key{Frequency: FrequencyLow, ID: IDAgentThrottle} }
func (AgentThrottle) sealed()      {}

func (m AgentThrottle) Encode(b *PacketBuilder) {
	b.WriteUUID(m.AgentID).WriteUUID(m.SessionID).WriteU32BE(m.CircuitCode)
	for _, v := range m.Throttles {
		b.WriteF32BE(v)
	}
}

func decodeAgentThrottle(r *PacketReader) (Message, error) {
	var (
		m   AgentThrottle
		err error
	)
	if m.AgentID, m.SessionID, err = readAgentData(r); err != nil {
		return nil, err
	}
	if m.CircuitCode, err = r.ReadU32BE("CircuitCode"); err != nil {
		return nil, err
	}
	for i := range m.Throttles {
		if m.Throttles[i], err = r.ReadF32BE("Throttles"); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AgentUpdate carries the agent's position and camera. Floats and the
// control bitmask are big-endian.
type AgentUpdate struct {
	AgentID      uuid.UUID `json:"agent_id"`
	SessionID    uuid.UUID `json:"session_id"`
	Position     Vector3   `json:"position"`
	CameraAt     Vector3   `json:"camera_at"`
	CameraEye    Vector3   `json:"camera_eye"`
	ControlFlags uint32    `json:"control_flags"`
}

func (AgentUpdate) Name() string { return "AgentUpdate" }
func (AgentUpdate) Key() Key     { return Key{Frequency: FrequencyHigh, ID: IDAgentUpdate} }
func (AgentUpdate) sealed()      {}

func (m AgentUpdate) Encode(b *PacketBuilder) {
	b.WriteUUID(m.AgentID).WriteUUID(m.SessionID).
		WriteVector3BE(m.Position).WriteVector3BE(m.CameraAt).WriteVector3BE(m.CameraEye).
		WriteU32BE(m.ControlFlags)
}

func decodeAgentUpdate(r *PacketReader) (Message, error) {
	var (
		m   AgentUpdate
		err error
	)
	if m.AgentID, m.SessionID, err = readAgentData(r); err != nil {
		return nil, err
	}
	if m.Position, err = r.ReadVector3BE("Position"); err != nil {
		return nil, err
	}
	if m.CameraAt, err = r.ReadVector3BE("CameraAtAxis"); err != nil {
		return nil, err
	}
	if m.CameraEye, err = r.ReadVector3BE("CameraCenter"); err != nil {
		return nil, err
	}
	if m.ControlFlags, err = r.ReadU32BE("ControlFlags"); err != nil {
		return nil, err
	}
	return m, nil
}

// PacketAck acknowledges reliable packets by sequence number.
type PacketAck struct {
	Packets []uint32 `json:"packets"`
}

func (PacketAck) Name() string { return "PacketAck" }
func (PacketAck) Key() Key     { return Key{Frequency: FrequencyFixed, ID: IDPacketAck} }
func (PacketAck) sealed()      {}

// Encode writes at most 255 sequence numbers; callers split longer lists.
func (m PacketAck) Encode(b *PacketBuilder) {
	ids := m.Packets
	if len(ids) > MaxAppendedAcks {
		ids = ids[:MaxAppendedAcks]
	}
	b.WriteU8(uint8(len(ids)))
	for _, seq := range ids {
		b.WriteU32BE(seq)
	}
}

func decodePacketAck(r *PacketReader) (Message, error) {
	n, err := r.ReadU8("Packets")
	if err != nil {
		return nil, err
	}
	m := PacketAck{Packets: make([]uint32, n)}
	for i := range m.Packets {
		if m.Packets[i], err = r.ReadU32BE("ID"); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ChatFromViewer sends local chat.
type ChatFromViewer struct {
	AgentID   uuid.UUID `json:"agent_id"`
	SessionID uuid.UUID `json:"session_id"`
	Message   string    `json:"message"`
	Type      ChatType  `json:"type"`
	Channel   int32     `json:"channel"`
}

func (ChatFromViewer) Name() string { return "ChatFromViewer" }
func (ChatFromViewer) Key() Key     { return Key{Frequency: FrequencyLow, ID: IDChatFromViewer} }
func (ChatFromViewer) sealed()      {}

func (m ChatFromViewer) Encode(b *PacketBuilder) {
	b.WriteUUID(m.AgentID).WriteUUID(m.SessionID).
		WriteString2(m.Message).WriteU8(uint8(m.Type)).WriteS32(m.Channel)
}

func decodeChatFromViewer(r *PacketReader) (Message, error) {
	var (
		m   ChatFromViewer
		err error
	)
	if m.AgentID, m.SessionID, err = readAgentData(r); err != nil {
		return nil, err
	}
	if m.Message, err = r.ReadString2("Message"); err != nil {
		return nil, err
	}
	t, err := r.ReadU8("Type")
	if err != nil {
		return nil, err
	}
	m.Type = ChatType(t)
	if m.Channel, err = r.ReadS32("Channel"); err != nil {
		return nil, err
	}
	return m, nil
}

// ChatType is the audible range of a chat line.
type ChatType uint8

const (
	ChatWhisper ChatType = 0
	ChatNormal  ChatType = 1
	ChatShout   ChatType = 2
)

// ChatFromSimulator is chat heard by the agent.
type ChatFromSimulator struct {
	FromName   string    `json:"from_name"`
	SourceID   uuid.UUID `json:"source_id"`
	OwnerID    uuid.UUID `json:"owner_id"`
	SourceType uint8     `json:"source_type"`
	ChatType   ChatType  `json:"chat_type"`
	Audible    uint8     `json:"audible"`
	Position   Vector3   `json:"position"`
	Message    string    `json:"message"`
}

func (ChatFromSimulator) Name() string { return "ChatFromSimulator" }
func (ChatFromSimulator) Key() Key {
	return Key{Frequency: FrequencyLow, ID: IDChatFromSimulator}
}
func (ChatFromSimulator) sealed() {}

func (m ChatFromSimulator) Encode(b *PacketBuilder) {
	b.WriteString(m.FromName).WriteUUID(m.SourceID).WriteUUID(m.OwnerID).
		WriteU8(m.SourceType).WriteU8(uint8(m.ChatType)).WriteU8(m.Audible).
		WriteVector3(m.Position).WriteString2(m.Message)
}

func decodeChatFromSimulator(r *PacketReader) (Message, error) {
	var (
		m   ChatFromSimulator
		err error
	)
	if m.FromName, err = r.ReadString("FromName"); err != nil {
		return nil, err
	}
	if m.SourceID, err = r.ReadUUID("SourceID"); err != nil {
		return nil, err
	}
	if m.OwnerID, err = r.ReadUUID("OwnerID"); err != nil {
		return nil, err
	}
	if m.SourceType, err = r.ReadU8("SourceType"); err != nil {
		return nil, err
	}
	ct, err := r.ReadU8("ChatType")
	if err != nil {
		return nil, err
	}
	m.ChatType = ChatType(ct)
	if m.Audible, err = r.ReadU8("Audible"); err != nil {
		return nil, err
	}
	if m.Position, err = r.ReadVector3("Position"); err != nil {
		return nil, err
	}
	if m.Message, err = r.ReadString2("Message"); err != nil {
		return nil, err
	}
	return m, nil
}

// StartPingCheck is the simulator's circuit health probe.
type StartPingCheck struct {
	PingID        uint8  `json:"ping_id"`
	OldestUnacked uint32 `json:"oldest_unacked"`
}

func (StartPingCheck) Name() string { return "StartPingCheck" }
func (StartPingCheck) Key() Key     { return Key{Frequency: FrequencyHigh, ID: IDStartPingCheck} }
func (StartPingCheck) sealed()      {}

func (m StartPingCheck) Encode(b *PacketBuilder) {
	b.WriteU8(m.PingID).WriteU32(m.OldestUnacked)
}

func decodeStartPingCheck(r *PacketReader) (Message, error) {
	var (
		m   StartPingCheck
		err error
	)
	if m.PingID, err = r.ReadU8("PingID"); err != nil {
		return nil, err
	}
	if m.OldestUnacked, err = r.ReadU32("OldestUnacked"); err != nil {
		return nil, err
	}
	return m, nil
}

// CompletePingCheck answers a StartPingCheck with the same ping id.
type CompletePingCheck struct {
	PingID uint8 `json:"ping_id"`
}

func (CompletePingCheck) Name() string { return "CompletePingCheck" }
func (CompletePingCheck) Key() Key {
	return Key{Frequency: FrequencyHigh, ID: IDCompletePingCheck}
}
func (CompletePingCheck) sealed() {}

func (m CompletePingCheck) Encode(b *PacketBuilder) {
	b.WriteU8(m.PingID)
}

func decodeCompletePingCheck(r *PacketReader) (Message, error) {
	id, err := r.ReadU8("PingID")
	if err != nil {
		return nil, err
	}
	return CompletePingCheck{PingID: id}, nil
}

// OnlineNotification lists friends that came online.
type OnlineNotification struct {
	AgentIDs []uuid.UUID `json:"agent_ids"`
}

func (OnlineNotification) Name() string { return "OnlineNotification" }
func (OnlineNotification) Key() Key {
	return Key{Frequency: FrequencyLow, ID: IDOnlineNotification}
}
func (OnlineNotification) sealed() {}

func (m OnlineNotification) Encode(b *PacketBuilder) {
	ids := m.AgentIDs
	if len(ids) > 0xFF {
		ids = ids[:0xFF]
	}
	b.WriteU8(uint8(len(ids)))
	for _, id := range ids {
		b.WriteUUID(id)
	}
}

func decodeOnlineNotification(r *PacketReader) (Message, error) {
	n, err := r.ReadU8("AgentBlock")
	if err != nil {
		return nil, err
	}
	m := OnlineNotification{AgentIDs: make([]uuid.UUID, n)}
	for i := range m.AgentIDs {
		if m.AgentIDs[i], err = r.ReadUUID("AgentID"); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// LogoutRequest ends the session.
type LogoutRequest struct {
	AgentID   uuid.UUID `json:"agent_id"`
	SessionID uuid.UUID `json:"session_id"`
}

func (LogoutRequest) Name() string { return "LogoutRequest" }
func (LogoutRequest) Key() Key     { return Key{Frequency: FrequencyLow, ID: IDLogoutRequest} }
func (LogoutRequest) sealed()      {}

func (m LogoutRequest) Encode(b *PacketBuilder) {
	b.WriteUUID(m.AgentID).WriteUUID(m.SessionID)
}

func decodeLogoutRequest(r *PacketReader) (Message, error) {
	agent, session, err := readAgentData(r)
	if err != nil {
		return nil, err
	}
	return LogoutRequest{AgentID: agent, SessionID: session}, nil
}

// ObjectRequest is one entry of RequestMultipleObjects.
type ObjectRequest struct {
	CacheMissType uint8  `json:"cache_miss_type"`
	LocalID       uint32 `json:"local_id"`
}

// RequestMultipleObjects asks for full updates of objects by local id.
type RequestMultipleObjects struct {
	AgentID   uuid.UUID       `json:"agent_id"`
	SessionID uuid.UUID       `json:"session_id"`
	Objects   []ObjectRequest `json:"objects"`
}

func (RequestMultipleObjects) Name() string { return "RequestMultipleObjects" }
func (RequestMultipleObjects) Key() Key {
	return Key{Frequency: FrequencyMedium, ID: IDRequestMultipleObjects}
}
func (RequestMultipleObjects) sealed() {}

func (m RequestMultipleObjects) Encode(b *PacketBuilder) {
	b.WriteUUID(m.AgentID).WriteUUID(m.SessionID)
	objs := m.Objects
	if len(objs) > 0xFF {
		objs = objs[:0xFF]
	}
	b.WriteU8(uint8(len(objs)))
	for _, o := range objs {
		b.WriteU8(o.CacheMissType).WriteU32(o.LocalID)
	}
}

func decodeRequestMultipleObjects(r *PacketReader) (Message, error) {
	var (
		m   RequestMultipleObjects
		err error
	)
	if m.AgentID, m.SessionID, err = readAgentData(r); err != nil {
		return nil, err
	}
	n, err := r.ReadU8("ObjectData")
	if err != nil {
		return nil, err
	}
	m.Objects = make([]ObjectRequest, n)
	for i := range m.Objects {
		if m.Objects[i].CacheMissType, err = r.ReadU8("CacheMissType"); err != nil {
			return nil, err
		}
		if m.Objects[i].LocalID, err = r.ReadU32("ID"); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ImageRequest is one entry of RequestImage.
type ImageRequest struct {
	Image            uuid.UUID `json:"image"`
	DiscardLevel     int8      `json:"discard_level"`
	DownloadPriority float32   `json:"download_priority"`
	Packet           uint32    `json:"packet"`
	Type             uint8     `json:"type"`
}

// RequestImage asks the simulator for texture data.
type RequestImage struct {
	AgentID   uuid.UUID      `json:"agent_id"`
	SessionID uuid.UUID      `json:"session_id"`
	Images    []ImageRequest `json:"images"`
}

func (RequestImage) Name() string { return "RequestImage" }
func (RequestImage) Key() Key     { return Key{Frequency: FrequencyHigh, ID: IDRequestImage} }
func (RequestImage) sealed()      {}

func (m RequestImage) Encode(b *PacketBuilder) {
	b.WriteUUID(m.AgentID).WriteUUID(m.SessionID)
	imgs := m.Images
	if len(imgs) > 0xFF {
		imgs = imgs[:0xFF]
	}
	b.WriteU8(uint8(len(imgs)))
	for _, img := range imgs {
		b.WriteUUID(img.Image).WriteS8(img.DiscardLevel).
			WriteF32(img.DownloadPriority).WriteU32(img.Packet).WriteU8(img.Type)
	}
}

func decodeRequestImage(r *PacketReader) (Message, error) {
	var (
		m   RequestImage
		err error
	)
	if m.AgentID, m.SessionID, err = readAgentData(r); err != nil {
		return nil, err
	}
	n, err := r.ReadU8("RequestImage")
	if err != nil {
		return nil, err
	}
	m.Images = make([]ImageRequest, n)
	for i := range m.Images {
		img := &m.Images[i]
		if img.Image, err = r.ReadUUID("Image"); err != nil {
			return nil, err
		}
		if img.DiscardLevel, err = r.ReadS8("DiscardLevel"); err != nil {
			return nil, err
		}
		if img.DownloadPriority, err = r.ReadF32("DownloadPriority"); err != nil {
			return nil, err
		}
		if img.Packet, err = r.ReadU32("Packet"); err != nil {
			return nil, err
		}
		if img.Type, err = r.ReadU8("Type"); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// readAgentData reads the AgentID/SessionID pair most messages start with.
func readAgentData(r *PacketReader) (uuid.UUID, uuid.UUID, error) {
	agent, err := r.ReadUUID("AgentID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	session, err := r.ReadUUID("SessionID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return agent, session, nil
}
