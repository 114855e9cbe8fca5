package reader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

// ParseJSON accepts either a bare array of items or an object with an
// "items" array, the same shape the batch endpoint takes. Any idempotency
// key in the file is ignored.
func ParseJSON(data []byte) ([]types.BatchItem, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty json")
	}

	var items []types.BatchItem
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("decode json array: %w", err)
		}
	case '{':
		var doc struct {
			Items []types.BatchItem `json:"items"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode json object: %w", err)
		}
		items = doc.Items
	default:
		return nil, errors.New("json must be an array or an object with items")
	}

	if len(items) == 0 {
		return nil, errors.New("json has no items")
	}
	for i, it := range items {
		switch {
		case it.TestTypeID == "":
			return nil, &ParseError{Row: i + 1, Field: "testTypeId", Err: errors.New("required")}
		case it.Timestamp.IsZero():
			return nil, &ParseError{Row: i + 1, Field: "timestamp", Err: errors.New("required")}
		case it.Value == nil:
			return nil, &ParseError{Row: i + 1, Field: "value", Err: errors.New("required")}
		}
	}
	return items, nil
}
