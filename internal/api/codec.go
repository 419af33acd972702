package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// encode converts a JSON-tagged Go value into the Struct carried on the wire.
// Struct numbers are doubles, so integers round-trip exactly only up to
// 2^53; backend ids are serial keys far below that.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	st := new(structpb.Struct)
	if err := protojson.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return st, nil
}

// decode fills out from a wire Struct.
func decode(st *structpb.Struct, out any) error {
	data, err := protojson.Marshal(st)
	if err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	return nil
}
