package executor

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
)

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalDecodeHook converts a JSON number or numeric string into
// decimal.Decimal, since numbers arrive from encoding/json's generic
// unmarshal as float64 and decimal.Decimal does not implement the
// mapstructure.Unmarshaler convention mapstructure looks for by default.
func decimalDecodeHook(from reflect.Value, to reflect.Value) (interface{}, error) {
	if to.Type() != decimalType {
		return from.Interface(), nil
	}
	switch v := from.Interface().(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		if v == "" {
			return decimal.Decimal{}, nil
		}
		return decimal.NewFromString(v)
	default:
		return from.Interface(), nil
	}
}

// DecodeLoose unmarshals raw JSON into a map first and then decodes that map
// into dst using mapstructure's case-insensitive field matching, so an
// upstream producer's "ChainName"/"chainname"/"chainName" all land on the
// same Go field (spec §3, §9 — ingestion must be case-insensitive and not
// ad-hoc per field).
func DecodeLoose(raw []byte, dst interface{}) error {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return &ProtocolError{Op: "json.Unmarshal", Err: err}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: false,
		TagName:          "json",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
			decimalDecodeHook,
		),
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return &ProtocolError{Op: "mapstructure.Decode", Err: err}
	}
	return nil
}
