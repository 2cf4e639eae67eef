package wire

import "fmt"

// Built-in control message types. Ids below NumReserved are owned by the
// runtime; user types start at NumReserved and are handed out by the
// master in first-registration order.
const (
	QuitRequest uint32 = iota
	HelloRequest
	HelloReply
	HelloReport
	HelloUpdate
	RegisterRequest
	RegisterReply
	RegisterReport
	SubscribeUpdate
	CancelUpdate
	PublishUpdate  // legacy, reserved but never exchanged
	WithdrawUpdate // legacy, reserved but never exchanged

	NumReserved
)

var builtinNames = map[uint32]string{
	QuitRequest:     "QuitRequest",
	HelloRequest:    "HelloRequest",
	HelloReply:      "HelloReply",
	HelloReport:     "HelloReport",
	HelloUpdate:     "HelloUpdate",
	RegisterRequest: "RegisterRequest",
	RegisterReply:   "RegisterReply",
	RegisterReport:  "RegisterReport",
	SubscribeUpdate: "SubscribeUpdate",
	CancelUpdate:    "CancelUpdate",
	PublishUpdate:   "PublishUpdate",
	WithdrawUpdate:  "WithdrawUpdate",
}

// BuiltinName returns the name of a reserved message type and "" for
// anything else.
func BuiltinName(typ uint32) string { return builtinNames[typ] }

// HelloRequestPayload introduces a client to the master.
type HelloRequestPayload struct {
	Name string
	Port uint16
}

// Encode returns the wire form of p.
func (p *HelloRequestPayload) Encode() []byte {
	return Pack(String(p.Name), U16(p.Port))
}

// Decode parses b into p.
func (p *HelloRequestPayload) Decode(b []byte) error {
	fs, err := Unpack(b, KindString, KindUint16)
	if err != nil {
		return fmt.Errorf("HelloRequest: %w", err)
	}
	p.Name = fs[0].Str
	p.Port = uint16(fs[1].Uint)
	return nil
}

// HelloReplyPayload is the master's answer to a HelloRequest, carrying
// the master's own name and the id and name it assigned to the client.
type HelloReplyPayload struct {
	MasterName   string
	AssignedID   uint16
	AssignedName string
}

// Encode returns the wire form of p.
func (p *HelloReplyPayload) Encode() []byte {
	return Pack(String(p.MasterName), U16(p.AssignedID), String(p.AssignedName))
}

// Decode parses b into p.
func (p *HelloReplyPayload) Decode(b []byte) error {
	fs, err := Unpack(b, KindString, KindUint16, KindString)
	if err != nil {
		return fmt.Errorf("HelloReply: %w", err)
	}
	p.MasterName = fs[0].Str
	p.AssignedID = uint16(fs[1].Uint)
	p.AssignedName = fs[2].Str
	return nil
}

// HelloReportPayload describes an already-connected component to a newly
// arrived one.
type HelloReportPayload struct {
	Name string
	ID   uint16
	Host string
	Port uint16
}

// Encode returns the wire form of p.
func (p *HelloReportPayload) Encode() []byte {
	return Pack(String(p.Name), U16(p.ID), String(p.Host), U16(p.Port))
}

// Decode parses b into p.
func (p *HelloReportPayload) Decode(b []byte) error {
	fs, err := Unpack(b, KindString, KindUint16, KindString, KindUint16)
	if err != nil {
		return fmt.Errorf("HelloReport: %w", err)
	}
	p.Name = fs[0].Str
	p.ID = uint16(fs[1].Uint)
	p.Host = fs[2].Str
	p.Port = uint16(fs[3].Uint)
	return nil
}

// HelloUpdatePayload is sent by a component directly after it connects
// to a peer it learned about from a HelloReport.
type HelloUpdatePayload struct {
	Name string
	ID   uint16
	Port uint16
}

// Encode returns the wire form of p.
func (p *HelloUpdatePayload) Encode() []byte {
	return Pack(String(p.Name), U16(p.ID), U16(p.Port))
}

// Decode parses b into p.
func (p *HelloUpdatePayload) Decode(b []byte) error {
	fs, err := Unpack(b, KindString, KindUint16, KindUint16)
	if err != nil {
		return fmt.Errorf("HelloUpdate: %w", err)
	}
	p.Name = fs[0].Str
	p.ID = uint16(fs[1].Uint)
	p.Port = uint16(fs[2].Uint)
	return nil
}

// RegisterRequestPayload asks the master for the type id bound to a
// message name. An empty name requests a fresh anonymous id.
type RegisterRequestPayload struct {
	Name string
}

// Encode returns the wire form of p.
func (p *RegisterRequestPayload) Encode() []byte { return Pack(String(p.Name)) }

// Decode parses b into p.
func (p *RegisterRequestPayload) Decode(b []byte) error {
	fs, err := Unpack(b, KindString)
	if err != nil {
		return fmt.Errorf("RegisterRequest: %w", err)
	}
	p.Name = fs[0].Str
	return nil
}

// RegisterReplyPayload carries the assigned type id.
type RegisterReplyPayload struct {
	Type uint32
}

// Encode returns the wire form of p.
func (p *RegisterReplyPayload) Encode() []byte { return Pack(U32(p.Type)) }

// Decode parses b into p.
func (p *RegisterReplyPayload) Decode(b []byte) error {
	fs, err := Unpack(b, KindUint32)
	if err != nil {
		return fmt.Errorf("RegisterReply: %w", err)
	}
	p.Type = uint32(fs[0].Uint)
	return nil
}

// RegisterReportPayload announces a newly known type to everyone. The
// name is empty for anonymous types.
type RegisterReportPayload struct {
	Name string
	Type uint32
}

// Encode returns the wire form of p.
func (p *RegisterReportPayload) Encode() []byte {
	return Pack(String(p.Name), U32(p.Type))
}

// Decode parses b into p.
func (p *RegisterReportPayload) Decode(b []byte) error {
	fs, err := Unpack(b, KindString, KindUint32)
	if err != nil {
		return fmt.Errorf("RegisterReport: %w", err)
	}
	p.Name = fs[0].Str
	p.Type = uint32(fs[1].Uint)
	return nil
}

// SubscriptionPayload is the shared body of SubscribeUpdate and
// CancelUpdate: just the type id concerned.
type SubscriptionPayload struct {
	Type uint32
}

// Encode returns the wire form of p.
func (p *SubscriptionPayload) Encode() []byte { return Pack(U32(p.Type)) }

// Decode parses b into p.
func (p *SubscriptionPayload) Decode(b []byte) error {
	fs, err := Unpack(b, KindUint32)
	if err != nil {
		return fmt.Errorf("subscription update: %w", err)
	}
	p.Type = uint32(fs[0].Uint)
	return nil
}
