// Package wire freezes values that cross between the host goroutines and the
// plugin goroutine.
//
// A value is encoded to CBOR on the sending side and decoded into fresh Go
// values on the receiving side, so neither side can observe later mutation of
// the other's data. Decoded maps are map[string]any, arrays are []any and
// integers are int64.
package wire

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Payload is a frozen value.
type Payload []byte

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: build encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSignedOrFail,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: build decoder: %v", err))
	}
}

// Freeze encodes v. A nil v freezes to a nil payload.
func Freeze(v any) (Payload, error) {
	if v == nil {
		return nil, nil
	}
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: freeze %T: %w", v, err)
	}
	return Payload(data), nil
}

// MustFreeze is Freeze for values known to be encodable.
func MustFreeze(v any) Payload {
	p, err := Freeze(v)
	if err != nil {
		panic(err)
	}
	return p
}

// Thaw decodes a payload into generic Go values.
func Thaw(p Payload) (any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	var v any
	if err := decMode.Unmarshal(p, &v); err != nil {
		return nil, fmt.Errorf("wire: thaw: %w", err)
	}
	return v, nil
}

// ThawMap decodes a payload that must hold a map. An empty payload yields an
// empty map.
func ThawMap(p Payload) (map[string]any, error) {
	v, err := Thaw(p)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("wire: payload is %T, not a map", v)
	}
	return m, nil
}

// Size returns the encoded size in bytes.
func (p Payload) Size() int {
	return len(p)
}
