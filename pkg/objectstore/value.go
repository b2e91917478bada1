package objectstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// DecodeValue decodes a JSON object into a Value. Integral numbers that fit
// in 64 bits become int64, other numbers float64, so integers keep their
// exact value across a store round trip.
func DecodeValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v Value
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON object")
	}
	if v == nil {
		return nil, errors.New("value is not a JSON object")
	}

	for k, x := range v {
		v[k] = normalizeNumbers(x)
	}
	return v, nil
}

func normalizeNumbers(x any) any {
	switch t := x.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return x
	}
}
