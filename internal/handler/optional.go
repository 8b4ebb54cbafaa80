package handler

import "encoding/json"

// optional records whether a JSON field was present, so PATCH bodies can
// tell an omitted field from an explicit null.
type optional[T any] struct {
	Set   bool
	Value T
}

func (o *optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	return json.Unmarshal(data, &o.Value)
}
