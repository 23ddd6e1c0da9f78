package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// resultsPath is the fixed NerdGraph envelope around NRQL results.
var resultsPath = []string{"data", "actor", "account", "nrql", "results"}

// DecodePage extracts the result rows from a raw NerdGraph response.
// Any deviation from the expected envelope is a *DecodeError.
func DecodePage(payload []byte) ([]Row, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, newDecodeError("", payload, fmt.Errorf("invalid JSON: %w", err))
	}

	items, path, err := walkResults(root)
	if err != nil {
		if msg := graphQLErrors(root); msg != "" {
			err = fmt.Errorf("%w (graphql errors: %s)", err, msg)
		}
		return nil, newDecodeError(path, payload, err)
	}

	rows := make([]Row, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, newDecodeError(fmt.Sprintf("results[%d]", i), payload,
				fmt.Errorf("row has type %T, want object", item))
		}
		ms, err := millisFromJSON(obj[TimestampField])
		if err != nil {
			return nil, newDecodeError(fmt.Sprintf("results[%d].%s", i, TimestampField), payload, err)
		}

		fields := make(map[string]any, len(obj))
		for k, v := range obj {
			if k == TimestampField {
				continue
			}
			fields[k] = plainNumber(v)
		}
		rows = append(rows, Row{Millis: ms, Fields: fields})
	}
	return rows, nil
}

func walkResults(root any) ([]any, string, error) {
	current := root
	for i, part := range resultsPath {
		path := strings.Join(resultsPath[:i+1], ".")
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, path, fmt.Errorf("expected object, got %T", current)
		}
		current, ok = obj[part]
		if !ok || current == nil {
			return nil, path, errors.New("key not found")
		}
	}

	arr, ok := current.([]any)
	if !ok {
		return nil, strings.Join(resultsPath, "."), fmt.Errorf("expected array, got %T", current)
	}
	return arr, "", nil
}

func graphQLErrors(root any) string {
	obj, ok := root.(map[string]any)
	if !ok {
		return ""
	}
	list, ok := obj["errors"].([]any)
	if !ok {
		return ""
	}
	var msgs []string
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			if s, ok := m["message"].(string); ok {
				msgs = append(msgs, s)
			}
		}
	}
	return strings.Join(msgs, "; ")
}

// plainNumber converts json.Number back into int64 or float64 so records
// serialize the same way the upstream sent them.
func plainNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
