// Package codec is the canonical JSON encoder for envelopes and cache values: snowflake ids become
// short codes and instants are ISO-8601 with an explicit offset.
package codec

import (
	"bytes"
	"encoding/json"
	"reflect"
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

const TimeLayout = "2006-01-02T15:04:05.999999-07:00"

var (
	timeType = reflect.TypeOf(time.Time{})
	idType   = reflect.TypeOf(snowflake.ID(0))
)

func FormatTime(t time.Time) string { return t.Format(TimeLayout) }

// Marshal encodes v after Normalize. HTML escaping is disabled.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Normalize(v)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func Unmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

// Normalize rewrites maps and slices so nested ids and times take their canonical string form.
// Structs are left to their own MarshalJSON.
func Normalize(v any) any {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case snowflake.ID:
		return snowflake.Encode(x)
	case *snowflake.ID:
		if x == nil {
			return nil
		}
		return snowflake.Encode(*x)
	case time.Time:
		return FormatTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return FormatTime(*x)
	case json.RawMessage, []byte, string, bool, json.Number:
		return v
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Normalize(val)
		}
		return out
	}
	return normalizeValue(reflect.ValueOf(v))
}

func normalizeValue(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return rv.Interface()
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Struct:
		if rv.Type() == timeType {
			return FormatTime(rv.Interface().(time.Time))
		}
	case reflect.Int64:
		if rv.Type() == idType {
			return snowflake.Encode(snowflake.ID(rv.Int()))
		}
	}
	return rv.Interface()
}
