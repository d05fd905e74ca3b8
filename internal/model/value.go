package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Kind is the closed set of value kinds a hostio field can hold.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindBytes
	KindAddress
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBytes:
		return "bytes"
	case KindAddress:
		return "address"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged hostio field value. Only the member selected by Kind is meaningful.
type Value struct {
	Kind  Kind
	Int   uint256.Int
	Bytes []byte
	Addr  common.Address
	Bool  bool
}

// IntValue wraps a 256-bit unsigned integer.
func IntValue(v *uint256.Int) Value {
	out := Value{Kind: KindInt}
	if v != nil {
		out.Int.Set(v)
	}
	return out
}

// Uint64Value wraps a machine-sized unsigned integer.
func Uint64Value(v uint64) Value {
	out := Value{Kind: KindInt}
	out.Int.SetUint64(v)
	return out
}

// BytesValue wraps a byte sequence. The slice is copied.
func BytesValue(b []byte) Value {
	return Value{Kind: KindBytes, Bytes: common.CopyBytes(b)}
}

// AddressValue wraps a 20-byte account address.
func AddressValue(a common.Address) Value {
	return Value{Kind: KindAddress, Addr: a}
}

// BoolValue wraps a flag.
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// Uint64 returns the integer value if it is an int that fits in 64 bits.
func (v Value) Uint64() (uint64, bool) {
	if v.Kind != KindInt || !v.Int.IsUint64() {
		return 0, false
	}
	return v.Int.Uint64(), true
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int.Eq(&o.Int)
	case KindBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	case KindAddress:
		return v.Addr == o.Addr
	case KindBool:
		return v.Bool == o.Bool
	default:
		return true
	}
}

// Clone returns a value that shares no memory with v.
func (v Value) Clone() Value {
	v.Bytes = common.CopyBytes(v.Bytes)
	return v
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return v.Int.Dec()
	case KindBytes:
		return hexutil.Encode(v.Bytes)
	case KindAddress:
		return v.Addr.Hex()
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return "<invalid>"
	}
}

// MarshalJSON renders integers as decimal strings so 256-bit values survive
// JSON number precision, bytes as 0x-hex, addresses in checksum form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt, KindBytes, KindAddress:
		return json.Marshal(v.String())
	default:
		return nil, fmt.Errorf("model: marshal value of %s", v.Kind)
	}
}

// Field is one named entry of an ordered field mapping.
type Field struct {
	Key   string
	Value Value
}

// Fields is an ordered mapping of operation-specific data. Insertion order is kept.
type Fields []Field

// Get returns the value stored under key.
func (f Fields) Get(key string) (Value, bool) {
	for _, e := range f {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Keys returns field names in order.
func (f Fields) Keys() []string {
	keys := make([]string, len(f))
	for i, e := range f {
		keys[i] = e.Key
	}
	return keys
}

// Clone deep-copies the mapping.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for i, e := range f {
		out[i] = Field{Key: e.Key, Value: e.Value.Clone()}
	}
	return out
}

// String renders "k=v k=v" in field order.
func (f Fields) String() string {
	parts := make([]string, len(f))
	for i, e := range f {
		parts[i] = e.Key + "=" + e.Value.String()
	}
	return strings.Join(parts, " ")
}

// MarshalJSON emits a JSON object whose keys follow field order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, e := range f {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := e.Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("model: field %s: %w", e.Key, err)
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}
