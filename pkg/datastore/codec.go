package datastore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/goheros/datastore_sdk_go/pkg/apierror"
)

// Datatype tags of the property envelope.
const (
	TagNull      = "nullValue"
	TagBoolean   = "booleanValue"
	TagInteger   = "integerValue"
	TagDouble    = "doubleValue"
	TagString    = "stringValue"
	TagTimestamp = "timestampValue"
)

// metadataKeys may accompany the datatype tag and carry no value.
var metadataKeys = map[string]bool{
	"excludeFromIndexes": true,
	"meaning":            true,
}

// Properties is the wire form of an entity's properties: each name maps to
// an envelope such as {"integerValue":"42"}.
type Properties map[string]json.RawMessage

// DecodeProperties converts envelopes into plain values (nil, bool, int64,
// float64 or string). The datatype tag decides the result; the payload's
// shape is never used to guess a type.
func DecodeProperties(props Properties) (map[string]any, error) {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any, len(props))
	for _, name := range names {
		v, err := decodeProperty(name, props[name])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func decodeProperty(name string, raw json.RawMessage) (any, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, codecError(name, "", raw, errors.New("envelope is not an object"))
	}

	var (
		tag     string
		payload json.RawMessage
		tags    int
	)
	for k, v := range fields {
		if metadataKeys[k] {
			continue
		}
		tag, payload = k, v
		tags++
	}
	if tags != 1 {
		return nil, codecError(name, "", raw, fmt.Errorf("expected exactly one datatype tag, found %d", tags))
	}
	return decodeValue(name, tag, payload)
}

func decodeValue(name, tag string, payload json.RawMessage) (any, error) {
	switch tag {
	case TagNull:
		return nil, nil
	case TagBoolean:
		var b bool
		if json.Unmarshal(payload, &b) == nil {
			return b, nil
		}
		s, err := payloadString(payload)
		if err != nil {
			return nil, codecError(name, tag, payload, err)
		}
		b, err = strconv.ParseBool(s)
		if err != nil {
			return nil, codecError(name, tag, payload, err)
		}
		return b, nil
	case TagInteger:
		s, err := payloadNumber(payload)
		if err != nil {
			return nil, codecError(name, tag, payload, err)
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, codecError(name, tag, payload, err)
		}
		return i, nil
	case TagDouble:
		s, err := payloadNumber(payload)
		if err != nil {
			return nil, codecError(name, tag, payload, err)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, codecError(name, tag, payload, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, codecError(name, tag, payload, errors.New("non-finite double has no plain representation"))
		}
		return f, nil
	default:
		// stringValue, timestampValue and any other string-carrying tag.
		s, err := payloadString(payload)
		if err != nil {
			return nil, codecError(name, tag, payload, fmt.Errorf("unsupported datatype: %w", err))
		}
		return s, nil
	}
}

// payloadString decodes a JSON string payload.
func payloadString(payload json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(payload, &s); err != nil {
		return "", errors.New("payload is not a string")
	}
	return s, nil
}

// payloadNumber returns the text of a numeric payload given either as a JSON
// string ("42") or as a bare JSON number (42).
func payloadNumber(payload json.RawMessage) (string, error) {
	if s, err := payloadString(payload); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", errors.New("payload is neither a number nor a numeric string")
	}
	return n.String(), nil
}

func codecError(name, tag string, payload json.RawMessage, cause error) *apierror.Error {
	if tag == "" {
		return apierror.Wrap(apierror.KindCodec, http.StatusInternalServerError, cause,
			"property %q: %v: %s", name, cause, bytes.TrimSpace(payload))
	}
	return apierror.Wrap(apierror.KindCodec, http.StatusInternalServerError, cause,
		"property %q: cannot decode %s %s: %v", name, tag, bytes.TrimSpace(payload), cause)
}

// EncodeProperties converts plain scalar values into envelopes. It is the
// inverse of DecodeProperties for nil, bool, string, integer and float values.
func EncodeProperties(values map[string]any) (Properties, error) {
	out := make(Properties, len(values))
	for name, raw := range values {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindCodec, http.StatusBadRequest, err, "property %q: %v", name, err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindCodec, http.StatusBadRequest, err, "property %q: %v", name, err)
		}
		out[name] = data
	}
	return out, nil
}

type valueKind int

const (
	nullKind valueKind = iota
	boolKind
	stringKind
	integerKind
	doubleKind
)

// Value is a filter literal. The zero Value is Null.
type Value struct {
	kind valueKind
	b    bool
	s    string
	i    int64
	f    float64
}

// Null returns the null literal.
func Null() Value { return Value{} }

// Bool returns a boolean literal.
func Bool(b bool) Value { return Value{kind: boolKind, b: b} }

// String returns a string literal.
func String(s string) Value { return Value{kind: stringKind, s: s} }

// Integer returns a 64-bit integer literal.
func Integer(i int64) Value { return Value{kind: integerKind, i: i} }

// Double returns a floating point literal.
func Double(f float64) Value { return Value{kind: doubleKind, f: f} }

// Interface returns the plain Go value held by v.
func (v Value) Interface() any {
	switch v.kind {
	case boolKind:
		return v.b
	case stringKind:
		return v.s
	case integerKind:
		return v.i
	case doubleKind:
		return v.f
	default:
		return nil
	}
}

// ValueOf converts a plain Go value into a filter literal. Supported inputs
// are nil, bool, string, signed and unsigned integers that fit in int64,
// float32, float64 and json.Number.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Integer(int64(t)), nil
	case int8:
		return Integer(int64(t)), nil
	case int16:
		return Integer(int64(t)), nil
	case int32:
		return Integer(int64(t)), nil
	case int64:
		return Integer(t), nil
	case uint8:
		return Integer(int64(t)), nil
	case uint16:
		return Integer(int64(t)), nil
	case uint32:
		return Integer(int64(t)), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return Value{}, fmt.Errorf("datastore: integer %d overflows int64", t)
		}
		return Integer(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("datastore: integer %d overflows int64", t)
		}
		return Integer(int64(t)), nil
	case float32:
		return Double(float64(t)), nil
	case float64:
		return Double(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Integer(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("datastore: invalid number %q", t)
		}
		return Double(f), nil
	default:
		return Value{}, fmt.Errorf("datastore: unsupported filter value type %T", x)
	}
}

// MarshalJSON encodes v as a property envelope.
func (v Value) MarshalJSON() ([]byte, error) {
	var envelope map[string]any
	switch v.kind {
	case boolKind:
		envelope = map[string]any{TagBoolean: v.b}
	case stringKind:
		envelope = map[string]any{TagString: v.s}
	case integerKind:
		envelope = map[string]any{TagInteger: strconv.FormatInt(v.i, 10)}
	case doubleKind:
		envelope = map[string]any{TagDouble: doublePayload(v.f)}
	default:
		envelope = map[string]any{TagNull: nil}
	}
	return json.Marshal(envelope)
}

// UnmarshalJSON decodes a property envelope holding a supported literal.
func (v *Value) UnmarshalJSON(data []byte) error {
	plain, err := decodeProperty("value", data)
	if err != nil {
		return err
	}
	decoded, err := ValueOf(plain)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// doublePayload follows the proto3 JSON mapping for non-finite doubles.
func doublePayload(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}
