package wire

import "encoding/binary"

// tag numbers for the Parameter and Parameter_value nodes (§6).
const (
	tagParameter      = 0
	tagParamValueData = 0
	tagParamValueFrag = 1
	tagParamValueIdx  = 2
	tagParamValueType = 3
)

// ExtraType is the variant discriminator carried in a parameter's extra
// type byte.
type ExtraType byte

const (
	ExtraOctets ExtraType = iota
	ExtraUint32
	ExtraUint64
	ExtraBool
	ExtraCString
	ExtraVariant
)

// Parameter is one wire-level Parameter entry: an id, an index
// disambiguating repeated ids, an extra type tag, a fragmentation flag,
// and the raw value bytes for this entry (one fragment's worth, for a
// fragmented long parameter).
type Parameter struct {
	ID           ParameterType
	Index        uint32
	ExtraType    ExtraType
	Fragmented   bool
	Data         []byte
}

// ToNode renders one Parameter as its wire node.
func (p Parameter) ToNode() *Node {
	frag := byte(0)
	if p.Fragmented {
		frag = 1
	}
	value := NewConstructed(Tag{Class: ClassContext, Constructed: true, Number: 0},
		NewLeaf(Tag{Class: ClassContext, Number: tagParamValueData}, p.Data),
		NewLeaf(Tag{Class: ClassContext, Number: tagParamValueFrag}, []byte{frag}),
		NewLeaf(Tag{Class: ClassContext, Number: tagParamValueIdx}, encodeU32Index(p.Index)),
		NewLeaf(Tag{Class: ClassContext, Number: tagParamValueType}, []byte{byte(p.ExtraType)}),
	)
	idBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(idBytes, uint32(p.ID))
	return NewConstructed(Tag{Class: ClassContext, Constructed: true, Number: tagParameter},
		NewLeaf(Tag{Class: ClassContext, Number: 0}, idBytes),
		value,
	)
}

// ParameterFromNode parses one Parameter wire node back into a Parameter.
func ParameterFromNode(n *Node) (Parameter, error) {
	if n == nil || !n.Constructed || len(n.Children) < 2 {
		return Parameter{}, ErrBadSchema
	}
	idNode := n.Children[0]
	valueNode := n.Children[1]
	if len(idNode.Value) != 4 || !valueNode.Constructed {
		return Parameter{}, ErrBadSchema
	}

	p := Parameter{ID: ParameterType(binary.BigEndian.Uint32(idNode.Value))}
	for _, c := range valueNode.Children {
		switch c.Tag.Number {
		case tagParamValueData:
			p.Data = c.Value
		case tagParamValueFrag:
			if len(c.Value) == 1 {
				p.Fragmented = c.Value[0] != 0
			}
		case tagParamValueIdx:
			p.Index = decodeU32Index(c.Value)
		case tagParamValueType:
			if len(c.Value) == 1 {
				p.ExtraType = ExtraType(c.Value[0])
			}
		}
	}
	return p, nil
}

func encodeU32Index(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func decodeU32Index(b []byte) uint32 {
	if len(b) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// EncodeParameters renders an ordered parameter list as the constructed
// Parameters sequence node.
func EncodeParameters(params []Parameter) *Node {
	n := NewConstructed(Tag{Class: ClassContext, Constructed: true, Number: tagParametersSeq})
	for _, p := range params {
		n.Children = append(n.Children, p.ToNode())
	}
	return n
}

// DecodeParameters parses a Parameters sequence node back into an ordered
// slice, preserving wire order.
func DecodeParameters(n *Node) ([]Parameter, error) {
	if n == nil {
		return nil, nil
	}
	if !n.Constructed {
		return nil, ErrBadSchema
	}
	out := make([]Parameter, 0, len(n.Children))
	for _, c := range n.Children {
		p, err := ParameterFromNode(c)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

const tagParametersSeq = 0
