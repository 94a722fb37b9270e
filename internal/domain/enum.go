package domain

import (
	"encoding/json"
	"slices"
)

func contains[T comparable](set []T, v T) bool {
	return slices.Contains(set, v)
}

// unmarshalEnum rejects unknown values at the JSON boundary so handlers never
// see a status or channel outside the closed set.
func unmarshalEnum[T ~string](data []byte, dst *T, parse func(string) (T, error)) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := parse(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
