package reldb

import (
	"fmt"
	"reflect"

	"github.com/jgraettinger/cockroach-encoding/encoding"
)

// Ordered encodes keys so that the byte order of the encoding matches the
// natural order of the values: strings and byte slices lexicographically,
// integers, floats and bools numerically, and structs and arrays field by
// field. It is the default key codec for tables and indexes.
//
// Values of different types do not compare meaningfully; use one key type
// per table or index.
var Ordered Codec = orderedCodec{}

type orderedCodec struct{}

func (orderedCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot encode nil key")
	}
	return appendOrdered(nil, reflect.ValueOf(v))
}

func (orderedCodec) Decode(data []byte, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("cannot decode key into non-pointer %T", out)
	}
	rest, err := decodeOrdered(data, rv.Elem())
	if err != nil {
		return fmt.Errorf("failed to decode key into %T: %w", out, err)
	}
	if len(rest) != 0 {
		return fmt.Errorf("failed to decode key into %T: %d trailing bytes", out, len(rest))
	}
	return nil
}

func appendOrdered(b []byte, v reflect.Value) ([]byte, error) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, fmt.Errorf("cannot encode nil %v", v.Type())
		}
		return appendOrdered(b, v.Elem())
	case reflect.String:
		return encoding.EncodeStringAscending(b, v.String()), nil
	case reflect.Bool:
		var n int64
		if v.Bool() {
			n = 1
		}
		return encoding.EncodeVarintAscending(b, n), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return encoding.EncodeVarintAscending(b, v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return encoding.EncodeUvarintAscending(b, v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return encoding.EncodeFloatAscending(b, v.Float()), nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return encoding.EncodeBytesAscending(b, v.Bytes()), nil
		}
	case reflect.Array:
		var err error
		for i, n := 0, v.Len(); i < n; i++ {
			if b, err = appendOrdered(b, v.Index(i)); err != nil {
				return nil, err
			}
		}
		return b, nil
	case reflect.Struct:
		t := v.Type()
		var err error
		var fields int
		for i, n := 0, t.NumField(); i < n; i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if b, err = appendOrdered(b, v.Field(i)); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name(), t.Field(i).Name, err)
			}
			fields++
		}
		if fields == 0 {
			return nil, fmt.Errorf("struct %v has no exported fields", t)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported key type %v", v.Type())
}

func decodeOrdered(b []byte, v reflect.Value) ([]byte, error) {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return decodeOrdered(b, v.Elem())
	case reflect.String:
		rest, raw, err := encoding.DecodeBytesAscending(b, []byte{})
		if err != nil {
			return nil, err
		}
		v.SetString(string(raw))
		return rest, nil
	case reflect.Bool:
		rest, n, err := encoding.DecodeVarintAscending(b)
		if err != nil {
			return nil, err
		}
		v.SetBool(n != 0)
		return rest, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		rest, n, err := encoding.DecodeVarintAscending(b)
		if err != nil {
			return nil, err
		}
		if v.OverflowInt(n) {
			return nil, fmt.Errorf("value %d overflows %v", n, v.Type())
		}
		v.SetInt(n)
		return rest, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		rest, n, err := encoding.DecodeUvarintAscending(b)
		if err != nil {
			return nil, err
		}
		if v.OverflowUint(n) {
			return nil, fmt.Errorf("value %d overflows %v", n, v.Type())
		}
		v.SetUint(n)
		return rest, nil
	case reflect.Float32, reflect.Float64:
		rest, f, err := encoding.DecodeFloatAscending(b)
		if err != nil {
			return nil, err
		}
		v.SetFloat(f)
		return rest, nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			rest, raw, err := encoding.DecodeBytesAscending(b, []byte{})
			if err != nil {
				return nil, err
			}
			v.Set(reflect.ValueOf(raw).Convert(v.Type()))
			return rest, nil
		}
	case reflect.Array:
		var err error
		for i, n := 0, v.Len(); i < n; i++ {
			if b, err = decodeOrdered(b, v.Index(i)); err != nil {
				return nil, err
			}
		}
		return b, nil
	case reflect.Struct:
		t := v.Type()
		var err error
		for i, n := 0, t.NumField(); i < n; i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if b, err = decodeOrdered(b, v.Field(i)); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name(), t.Field(i).Name, err)
			}
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported key type %v", v.Type())
}
