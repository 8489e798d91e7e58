package network

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec serializes protocol messages inside frames.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON encodes messages as JSON text.
var JSON Codec = jsonCodec{}

// CBOR encodes messages with core deterministic encoding. Struct json tags
// name the map keys when no cbor tag is present.
var CBOR Codec = newCBORCodec()

// CodecFor returns the codec for a configured wire format, defaulting to JSON.
func CodecFor(format string) Codec {
	if strings.EqualFold(strings.TrimSpace(format), CBOR.Name()) {
		return CBOR
	}
	return JSON
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json message: %w", err)
	}
	return payload, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode json message: %w", err)
	}
	return nil
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("network: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("network: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Marshal(v any) ([]byte, error) {
	payload, err := c.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal cbor message: %w", err)
	}
	return payload, nil
}

func (c cborCodec) Unmarshal(data []byte, v any) error {
	if err := c.dec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode cbor message: %w", err)
	}
	return nil
}
