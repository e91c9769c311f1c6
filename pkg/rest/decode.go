package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/postgrest-go"
)

var null = []byte("null")

// Embedded is a foreign key expansion. The backend returns a related row as null,
// as an object, or as an array holding at most one object depending on the relationship;
// all three decode to an optional value.
type Embedded[T any] struct {
	Value *T
}

func (e *Embedded[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	e.Value = nil

	if len(data) == 0 || bytes.Equal(data, null) {
		return nil
	}

	if data[0] == '[' {
		var items []T
		err := json.Unmarshal(data, &items)
		if err != nil {
			return err
		}

		switch len(items) {
		case 0:
			return nil
		case 1:
			e.Value = &items[0]
			return nil
		default:
			return fmt.Errorf("expected at most one related row, got %d", len(items))
		}
	}

	var item T
	err := json.Unmarshal(data, &item)
	if err != nil {
		return err
	}

	e.Value = &item
	return nil
}

func (e Embedded[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Value)
}

// Rows decodes a JSON array into rows of T. A row that fails to decode is logged and skipped
// so one bad record does not hide the rest.
func Rows[T any](data []byte) ([]T, error) {
	var raw []json.RawMessage
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, malformed(err)
	}

	result := make([]T, 0, len(raw))
	for _, r := range raw {
		var row T
		err := json.Unmarshal(r, &row)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed row")
			continue
		}

		result = append(result, row)
	}

	return result, nil
}

// List runs the request and decodes every row.
func List[T any](ctx context.Context, b *postgrest.FilterBuilder) ([]T, error) {
	data, _, err := Exec(ctx, b)
	if err != nil {
		return nil, err
	}

	return Rows[T](data)
}
