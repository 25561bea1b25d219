package decode

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options customise Decode behaviour.
type Options struct {
	// WeaklyTypedInput enables lenient conversions, e.g. "123" -> int,
	// 1.0 -> int64, "true" -> bool (default true).
	WeaklyTypedInput bool
}

func DefaultOptions() Options {
	return Options{WeaklyTypedInput: true}
}

// Map decodes a loosely typed map (a JSON object, query values, ...) into T
// using the `json` tags of T.
func Map[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, fmt.Errorf("map is nil")
	}
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			jsonRawStringToMapHook(),
		),
	}
	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode map: %w", err)
	}
	return &out, nil
}

// JSON decodes raw JSON object bytes into T through Map, so the same lenient
// rules apply to frames and to query strings.
func JSON[T any](raw []byte, opts ...Options) (*T, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return Map[T](m, opts...)
}

// Query flattens url.Values (first value per key) and decodes them into T.
func Query[T any](q url.Values, opts ...Options) (*T, error) {
	m := make(map[string]any, len(q))
	for k, v := range q {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	return Map[T](m, opts...)
}

// floatToIntHook converts JSON numbers (float64) into int kinds.
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}

// jsonRawStringToMapHook turns a JSON string into map[string]any when the
// target is a map (clients sometimes double-encode nested objects).
func jsonRawStringToMapHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Map {
			return data, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data.(string)), &m); err == nil {
			return m, nil
		}
		return data, nil
	}
}
