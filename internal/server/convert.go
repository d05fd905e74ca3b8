package server

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// fieldJSON returns the JSON encoding of a request field.
func fieldJSON(s *structpb.Struct, key string) ([]byte, bool, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, false, nil
	}
	raw, err := protojson.Marshal(v)
	if err != nil {
		return nil, true, fmt.Errorf("field %q: %w", key, err)
	}
	return raw, true, nil
}

// stringList reads an optional list of strings.
func stringList(s *structpb.Struct, key string) ([]string, bool, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, false, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, true, fmt.Errorf("field %q must be a list", key)
	}
	out := make([]string, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		str, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, true, fmt.Errorf("field %q[%d] must be a string", key, i)
		}
		out = append(out, str.StringValue)
	}
	return out, true, nil
}

// jsonValue converts JSON into a Struct value. Numbers become doubles, so
// integers above 2^53 lose precision.
func jsonValue(raw []byte) (*structpb.Value, error) {
	v := new(structpb.Value)
	if err := protojson.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

// marshalValue JSON-encodes x and converts it into a Struct value.
func marshalValue(x any) (*structpb.Value, error) {
	raw, err := json.Marshal(x)
	if err != nil {
		return nil, err
	}
	return jsonValue(raw)
}
