package reldb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

// Codec turns keys and records into bytes and back.
//
// A key codec also defines ordering: records of a table, and entries of an
// index, are kept in the byte order of their encoded keys. Use Ordered (the
// default) for natural ordering of Go values, or Raw to supply bytes that are
// already encoded in the desired order.
type Codec interface {
	Encode(v any) ([]byte, error)
	// Decode decodes data into out, which must be a non-nil pointer.
	Decode(data []byte, out any) error
}

var (
	// Msgpack encodes records with MessagePack. It is the default data codec.
	// Maps are written in key order when they are the record itself or are
	// nested in maps and slices; maps inside struct fields are written in
	// key order only for map[string]string and map[string]any.
	Msgpack Codec = msgpackCodec{}

	// JSON encodes records with encoding/json.
	JSON Codec = jsonCodec{}

	// Proto encodes protobuf messages deterministically.
	Proto Codec = protoCodec{}

	// Raw passes []byte and string values through unchanged.
	Raw Codec = rawCodec{}
)

type msgpackCodec struct{}

func (msgpackCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := encodeSorted(enc, reflect.ValueOf(v))
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return buf.Bytes(), nil
}

var (
	customEncoderType = reflect.TypeOf((*msgpack.CustomEncoder)(nil)).Elem()
	marshalerType     = reflect.TypeOf((*msgpack.Marshaler)(nil)).Elem()
)

// encodeSorted walks maps and slices itself so that every map reachable
// that way is written in key order, and hands everything else to enc.
func encodeSorted(enc *msgpack.Encoder, v reflect.Value) error {
	if !v.IsValid() {
		return enc.EncodeNil()
	}
	if t := v.Type(); t.Implements(customEncoderType) || t.Implements(marshalerType) {
		return enc.EncodeValue(v)
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return enc.EncodeNil()
		}
		if v.Kind() == reflect.Interface || v.Elem().Kind() == reflect.Map {
			return encodeSorted(enc, v.Elem())
		}
	case reflect.Map:
		return encodeSortedMap(enc, v)
	case reflect.Slice:
		if v.IsNil() {
			return enc.EncodeNil()
		}
		switch v.Type().Elem().Kind() {
		case reflect.Map, reflect.Interface, reflect.Slice:
			if err := enc.EncodeArrayLen(v.Len()); err != nil {
				return err
			}
			for i, n := 0, v.Len(); i < n; i++ {
				if err := encodeSorted(enc, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return enc.EncodeValue(v)
}

func encodeSortedMap(enc *msgpack.Encoder, v reflect.Value) error {
	if v.IsNil() {
		return enc.EncodeNil()
	}
	type entry struct {
		order string
		key   []byte
		value reflect.Value
	}
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		kb, err := msgpack.Marshal(iter.Key().Interface())
		if err != nil {
			return err
		}
		e := entry{order: string(kb), key: kb, value: iter.Value()}
		if iter.Key().Kind() == reflect.String {
			e.order = iter.Key().String()
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].order < entries[j].order
	})

	if err := enc.EncodeMapLen(len(entries)); err != nil {
		return err
	}
	for _, e := range entries {
		if err := enc.Encode(msgpack.RawMessage(e.key)); err != nil {
			return err
		}
		if err := encodeSorted(enc, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (msgpackCodec) Decode(data []byte, out any) error {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(out)
	msgpack.PutDecoder(dec)
	if err != nil {
		return fmt.Errorf("failed to decode msgpack into %T: %w", out, err)
	}
	return nil
}

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T to JSON: %w", v, err)
	}
	return raw, nil
}

func (jsonCodec) Decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode JSON into %T: %w", out, err)
	}
	return nil
}

type protoCodec struct{}

func (protoCodec) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%T is not a protobuf message", v)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

func (protoCodec) Decode(data []byte, out any) error {
	m, ok := out.(proto.Message)
	if !ok {
		return fmt.Errorf("%T is not a protobuf message", out)
	}
	if err := proto.Unmarshal(data, m); err != nil {
		return fmt.Errorf("failed to decode protobuf into %T: %w", out, err)
	}
	return nil
}

type rawCodec struct{}

func (rawCodec) Encode(v any) ([]byte, error) {
	switch v := v.(type) {
	case []byte:
		return clone(v), nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("raw codec cannot encode %T", v)
	}
}

func (rawCodec) Decode(data []byte, out any) error {
	switch out := out.(type) {
	case *[]byte:
		*out = clone(data)
	case *string:
		*out = string(data)
	default:
		return fmt.Errorf("raw codec cannot decode into %T", out)
	}
	return nil
}
