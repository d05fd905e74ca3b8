package hostio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ppiankov/hostiotrace/internal/model"
)

var (
	ErrShortBuffer   = errors.New("hostio: buffer too short")
	ErrTrailingBytes = errors.New("hostio: trailing bytes")
	ErrFieldMissing  = errors.New("hostio: field missing")
	ErrFieldKind     = errors.New("hostio: field has wrong kind")
)

// Raw field names used for hostios without a known layout.
const (
	RawArgs = "args"
	RawOuts = "outs"
)

// Decode unpacks the args and outs buffers of a hostio into ordered fields,
// args first. Both buffers must be consumed exactly. Unknown names keep the
// raw buffers under "args" and "outs".
func Decode(name string, args, outs []byte) (model.Fields, error) {
	layout, ok := layouts[name]
	if !ok {
		return model.Fields{
			{Key: RawArgs, Value: model.BytesValue(args)},
			{Key: RawOuts, Value: model.BytesValue(outs)},
		}, nil
	}
	fields := make(model.Fields, 0, len(layout.Args)+len(layout.Outs))
	fields, err := unpack(fields, name, "args", layout.Args, args)
	if err != nil {
		return nil, err
	}
	return unpack(fields, name, "outs", layout.Outs, outs)
}

func unpack(fields model.Fields, name, buf string, slots []Slot, src []byte) (model.Fields, error) {
	for _, slot := range slots {
		if slot.Type == Data {
			fields = append(fields, model.Field{Key: slot.Name, Value: model.BytesValue(src)})
			src = nil
			continue
		}
		size := slot.Type.Size()
		if len(src) < size {
			return nil, fmt.Errorf("%w: %s %s.%s wants %d bytes, got %d", ErrShortBuffer, name, buf, slot.Name, size, len(src))
		}
		fields = append(fields, model.Field{Key: slot.Name, Value: read(slot.Type, src[:size])})
		src = src[size:]
	}
	if len(src) != 0 {
		return nil, fmt.Errorf("%w: %s %s has %d unread bytes", ErrTrailingBytes, name, buf, len(src))
	}
	return fields, nil
}

func read(t SlotType, b []byte) model.Value {
	switch t {
	case U8:
		return model.Uint64Value(uint64(b[0]))
	case U16:
		return model.Uint64Value(uint64(binary.BigEndian.Uint16(b)))
	case U32:
		return model.Uint64Value(uint64(binary.BigEndian.Uint32(b)))
	case U64:
		return model.Uint64Value(binary.BigEndian.Uint64(b))
	case U256:
		return model.IntValue(new(uint256.Int).SetBytes32(b))
	case Address:
		return model.AddressValue(common.BytesToAddress(b))
	case Flag:
		return model.BoolValue(binary.BigEndian.Uint32(b) != 0)
	default:
		return model.BytesValue(b)
	}
}

// Encode packs fields back into args and outs buffers. It is the inverse of
// Decode for every layout.
func Encode(name string, fields model.Fields) (args, outs []byte, err error) {
	layout, ok := layouts[name]
	if !ok {
		a, err := rawBytes(name, fields, RawArgs)
		if err != nil {
			return nil, nil, err
		}
		o, err := rawBytes(name, fields, RawOuts)
		if err != nil {
			return nil, nil, err
		}
		return a, o, nil
	}
	if args, err = pack(name, layout.Args, fields); err != nil {
		return nil, nil, err
	}
	if outs, err = pack(name, layout.Outs, fields); err != nil {
		return nil, nil, err
	}
	return args, outs, nil
}

func rawBytes(name string, fields model.Fields, key string) ([]byte, error) {
	v, ok := fields.Get(key)
	if !ok {
		return []byte{}, nil
	}
	if v.Kind != model.KindBytes {
		return nil, fmt.Errorf("%w: %s.%s is %s", ErrFieldKind, name, key, v.Kind)
	}
	return common.CopyBytes(v.Bytes), nil
}

func pack(name string, slots []Slot, fields model.Fields) ([]byte, error) {
	out := []byte{}
	for _, slot := range slots {
		v, ok := fields.Get(slot.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrFieldMissing, name, slot.Name)
		}
		b, err := write(slot.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, slot.Name, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

func write(t SlotType, v model.Value) ([]byte, error) {
	want := model.KindInt
	switch t {
	case B256, Data:
		want = model.KindBytes
	case Address:
		want = model.KindAddress
	case Flag:
		want = model.KindBool
	}
	if v.Kind != want {
		return nil, fmt.Errorf("%w: %s, want %s", ErrFieldKind, v.Kind, want)
	}

	switch t {
	case Data:
		return common.CopyBytes(v.Bytes), nil
	case B256:
		if len(v.Bytes) != 32 {
			return nil, fmt.Errorf("%w: b256 of %d bytes", ErrFieldKind, len(v.Bytes))
		}
		return common.CopyBytes(v.Bytes), nil
	case Address:
		return v.Addr.Bytes(), nil
	case Flag:
		b := make([]byte, 4)
		if v.Bool {
			b[3] = 1
		}
		return b, nil
	case U256:
		b := v.Int.Bytes32()
		return b[:], nil
	}

	size := t.Size()
	if v.Int.BitLen() > size*8 {
		return nil, fmt.Errorf("%w: %s overflows %s", ErrFieldKind, v.Int.Dec(), t)
	}
	b := v.Int.Bytes32()
	return common.CopyBytes(b[32-size:]), nil
}
