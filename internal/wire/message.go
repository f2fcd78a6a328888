package wire

import (
	"encoding/binary"
	"fmt"
)

// tag numbers for the top-level Message and Header schema (§6).
const (
	tagHeader = 0
	tagBody   = 1

	tagHdrVersion  = 0
	tagHdrSource   = 1
	tagHdrDest     = 2
	tagHdrUUID     = 3
	tagHdrSeqNum   = 4
	tagHdrSeqFlag  = 5
	tagHdrEncInfo  = 6
	tagHdrHopInfo  = 7
	tagHdrStatus   = 8

	tagEndPointType = 0
	tagEndPointID   = 1

	tagHopCurrent = 0
	tagHopMax     = 1
)

// SeqFlag is the sequence flag carried in every Header (§4.2).
type SeqFlag uint8

const (
	SeqStart        SeqFlag = 0
	SeqContinue     SeqFlag = 1
	SeqEnd          SeqFlag = 2
	SeqStateless    SeqFlag = 4
	SeqStatelessOne SeqFlag = 5 // SF_STATELESS_NO_REPLY: one-way, no automatic reply
	SeqContinueWait SeqFlag = 6
	SeqHeartbeat    SeqFlag = 7
)

// ErrorCode is the header's status field (§7 taxonomy).
type ErrorCode uint16

const (
	ErrCodeOK             ErrorCode = 0
	ErrCodeMalformed      ErrorCode = 1
	ErrCodeNoRoute        ErrorCode = 2
	ErrCodeHopLimit       ErrorCode = 3
	ErrCodePoolExhausted  ErrorCode = 4
	ErrCodeTimeout        ErrorCode = 5
	ErrCodeServiceError   ErrorCode = 6
	ErrCodeWaitFailed     ErrorCode = 100
)

// EndPointDescriptor identifies a daemon: its type string and id string,
// both <=15 bytes per the data model.
type EndPointDescriptor struct {
	Type string
	ID   string
}

func (e EndPointDescriptor) toNode(tagNumber uint32) *Node {
	return NewConstructed(Tag{Class: ClassContext, Constructed: true, Number: tagNumber},
		NewLeaf(Tag{Class: ClassContext, Number: tagEndPointType}, []byte(e.Type)),
		NewLeaf(Tag{Class: ClassContext, Number: tagEndPointID}, []byte(e.ID)),
	)
}

func endPointFromNode(n *Node) (EndPointDescriptor, error) {
	if n == nil || !n.Constructed {
		return EndPointDescriptor{}, ErrBadSchema
	}
	var e EndPointDescriptor
	if c := n.Child(tagEndPointType); c != nil {
		e.Type = string(c.Value)
	}
	if c := n.Child(tagEndPointID); c != nil {
		e.ID = string(c.Value)
	}
	return e, nil
}

// HopInfo tracks forwarding depth for loop prevention (§4.2 hop control).
type HopInfo struct {
	CurrentHop uint32
	MaxHops    uint32
}

func (h HopInfo) toNode() *Node {
	return NewConstructed(Tag{Class: ClassContext, Constructed: true, Number: tagHdrHopInfo},
		NewLeaf(Tag{Class: ClassContext, Number: tagHopCurrent}, encodeU32Index(h.CurrentHop)),
		NewLeaf(Tag{Class: ClassContext, Number: tagHopMax}, encodeU32Index(h.MaxHops)),
	)
}

func hopInfoFromNode(n *Node) HopInfo {
	var h HopInfo
	if c := n.Child(tagHopCurrent); c != nil {
		h.CurrentHop = decodeU32Index(c.Value)
	}
	if c := n.Child(tagHopMax); c != nil {
		h.MaxHops = decodeU32Index(c.Value)
	}
	return h
}

// Header is the fixed envelope every Message carries (§6).
type Header struct {
	Version      int32
	Source       EndPointDescriptor
	Destination  EndPointDescriptor
	UUID         [16]byte
	SequenceNum  uint32
	SequenceFlag SeqFlag
	HopInfo      *HopInfo
	Status       ErrorCode
}

// BodyKind is the Body variant selector (§6's alternatives table).
type BodyKind uint32

const (
	BodyEncryptedData BodyKind = 1
	BodyPacketFwd     BodyKind = 2
	BodyFilter        BodyKind = 3
	BodyDataRetention BodyKind = 4
	BodyConfig        BodyKind = 6
	BodyStats         BodyKind = 7
	BodyAuth          BodyKind = 8
	BodyRegistration  BodyKind = 9
	BodyNotify        BodyKind = 10
	BodyData          BodyKind = 11
	BodyRouting       BodyKind = 12
	BodyService       BodyKind = 13
	BodyState         BodyKind = 14
)

// Message is the full decoded tree: Header plus one Body variant. Bodies
// the core does not interpret directly (Filter, Config, Auth, Notify,
// DataRetention, encrypted_data — all external-collaborator concerns per
// the Non-goals) are kept as their raw Node for pass-through; Service and
// Registration get typed accessors (ServiceBody, RegistrationBody). Routing
// and Stats bodies have no typed accessor and stay as the raw Node.
type Message struct {
	Header Header
	Kind   BodyKind
	Body   *Node
}

// ServiceBody is the typed view of a BodyService node.
type ServiceBody struct {
	ServiceID     uint32
	ServiceAction uint32
	Parameters    []Parameter
}

const (
	tagSvcID     = 0
	tagSvcAction = 1
	tagSvcParams = 2
)

// NewServiceMessage builds a Message carrying a Service body.
func NewServiceMessage(hdr Header, svc ServiceBody) *Message {
	body := NewConstructed(Tag{Class: ClassContext, Constructed: true, Number: uint32(BodyService)},
		NewLeaf(Tag{Class: ClassContext, Number: tagSvcID}, encodeU32Index(svc.ServiceID)),
		NewLeaf(Tag{Class: ClassContext, Number: tagSvcAction}, encodeU32Index(svc.ServiceAction)),
		relabel(EncodeParameters(svc.Parameters), tagSvcParams),
	)
	return &Message{Header: hdr, Kind: BodyService, Body: body}
}

// ServiceBody extracts the typed Service view, if this Message carries one.
func (m *Message) ServiceBody() (*ServiceBody, bool) {
	if m.Kind != BodyService || m.Body == nil {
		return nil, false
	}
	sb := &ServiceBody{}
	if c := m.Body.Child(tagSvcID); c != nil {
		sb.ServiceID = decodeU32Index(c.Value)
	}
	if c := m.Body.Child(tagSvcAction); c != nil {
		sb.ServiceAction = decodeU32Index(c.Value)
	}
	if c := m.Body.Child(tagSvcParams); c != nil {
		params, err := DecodeParameters(c)
		if err != nil {
			return nil, false
		}
		sb.Parameters = params
	}
	return sb, true
}

// RegistrationBody is the typed view of a BodyRegistration node, used by
// the Client/Session handshake (§4.6).
type RegistrationBody struct {
	Action     uint32
	Parameters []Parameter
}

const (
	tagRegAction = 0
	tagRegParams = 1
)

// NewRegistrationMessage builds a Message carrying a Registration body.
func NewRegistrationMessage(hdr Header, reg RegistrationBody) *Message {
	body := NewConstructed(Tag{Class: ClassContext, Constructed: true, Number: uint32(BodyRegistration)},
		NewLeaf(Tag{Class: ClassContext, Number: tagRegAction}, encodeU32Index(reg.Action)),
		relabel(EncodeParameters(reg.Parameters), tagRegParams),
	)
	return &Message{Header: hdr, Kind: BodyRegistration, Body: body}
}

// RegistrationBody extracts the typed Registration view, if present.
func (m *Message) RegistrationBody() (*RegistrationBody, bool) {
	if m.Kind != BodyRegistration || m.Body == nil {
		return nil, false
	}
	rb := &RegistrationBody{}
	if c := m.Body.Child(tagRegAction); c != nil {
		rb.Action = decodeU32Index(c.Value)
	}
	if c := m.Body.Child(tagRegParams); c != nil {
		params, err := DecodeParameters(c)
		if err != nil {
			return nil, false
		}
		rb.Parameters = params
	}
	return rb, true
}

func relabel(n *Node, number uint32) *Node {
	n.Tag.Number = number
	return n
}

// ToNode renders the full Message tree in schema order: Header fields
// first (version, source, destination, uuid, sequence_num, sequence_flag,
// optional hop_info, status), then the single-variant Body.
func (m *Message) ToNode() *Node {
	hdr := m.Header
	hdrNode := NewConstructed(Tag{Class: ClassContext, Constructed: true, Number: tagHeader},
		NewLeaf(Tag{Class: ClassContext, Number: tagHdrVersion}, encodeI32(hdr.Version)),
		hdr.Source.toNode(tagHdrSource),
		hdr.Destination.toNode(tagHdrDest),
		NewLeaf(Tag{Class: ClassContext, Number: tagHdrUUID}, hdr.UUID[:]),
		NewLeaf(Tag{Class: ClassContext, Number: tagHdrSeqNum}, encodeU32Index(hdr.SequenceNum)),
		NewLeaf(Tag{Class: ClassContext, Number: tagHdrSeqFlag}, []byte{byte(hdr.SequenceFlag)}),
	)
	if hdr.HopInfo != nil {
		hdrNode.Children = append(hdrNode.Children, hdr.HopInfo.toNode())
	}
	hdrNode.Children = append(hdrNode.Children,
		NewLeaf(Tag{Class: ClassContext, Number: tagHdrStatus}, encodeU16(uint16(hdr.Status))),
	)

	bodyNode := NewConstructed(Tag{Class: ClassContext, Constructed: true, Number: tagBody}, m.Body)

	return NewConstructed(Tag{Class: ClassContext, Constructed: true, Number: 0}, hdrNode, bodyNode)
}

// Encode renders m to its wire bytes.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("wire: cannot encode nil message")
	}
	return EncodeNode(nil, m.ToNode()), nil
}

// Decode parses raw wire bytes into a Message. session identifies the
// association the bytes were read from, for error-context only.
func Decode(session uint64, raw []byte) (*Message, error) {
	root, _, err := DecodeNode(raw)
	if err != nil {
		return nil, fmt.Errorf("wire: decoding message on session %d: %w", session, err)
	}
	hdrNode := root.Child(tagHeader)
	bodyNode := root.Child(tagBody)
	if hdrNode == nil || bodyNode == nil || len(bodyNode.Children) > 1 {
		return nil, fmt.Errorf("wire: session %d: %w", session, ErrBadSchema)
	}

	m := &Message{}
	if c := hdrNode.Child(tagHdrVersion); c != nil {
		m.Header.Version = decodeI32(c.Value)
	}
	if c := hdrNode.Child(tagHdrSource); c != nil {
		ep, err := endPointFromNode(c)
		if err != nil {
			return nil, err
		}
		m.Header.Source = ep
	}
	if c := hdrNode.Child(tagHdrDest); c != nil {
		ep, err := endPointFromNode(c)
		if err != nil {
			return nil, err
		}
		m.Header.Destination = ep
	}
	if c := hdrNode.Child(tagHdrUUID); c != nil {
		copy(m.Header.UUID[:], c.Value)
	}
	if c := hdrNode.Child(tagHdrSeqNum); c != nil {
		m.Header.SequenceNum = decodeU32Index(c.Value)
	}
	if c := hdrNode.Child(tagHdrSeqFlag); c != nil && len(c.Value) == 1 {
		m.Header.SequenceFlag = SeqFlag(c.Value[0])
	}
	if c := hdrNode.Child(tagHdrHopInfo); c != nil {
		hi := hopInfoFromNode(c)
		m.Header.HopInfo = &hi
	}
	if c := hdrNode.Child(tagHdrStatus); c != nil {
		m.Header.Status = ErrorCode(decodeU16(c.Value))
	}

	// A heartbeat (and any other bodyless control message) carries no
	// Body variant at all; Kind stays zero and Body stays nil.
	if len(bodyNode.Children) == 1 {
		variant := bodyNode.Children[0]
		m.Kind = BodyKind(variant.Tag.Number)
		m.Body = variant
	}
	return m, nil
}

func encodeI32(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func decodeI32(b []byte) int32 {
	if len(b) != 4 {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func encodeU16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func decodeU16(b []byte) uint16 {
	if len(b) != 2 {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}
