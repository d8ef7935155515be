package pagination

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Join denormalises a related side collection of an envelope response into
// each primary entity: the related entity whose id equals the primary's
// ForeignKey value is stored under Field.
type Join struct {
	Collection string // side collection key; empty picks the first non-primary key
	ForeignKey string
	Field      string
}

// DecodeFunc validates a single raw entity.
type DecodeFunc[T any] func(raw json.RawMessage) (T, error)

// NewUnwrapper returns an UnwrapFunc accepting both a plain JSON array and
// an envelope of the form
//
//	{"meta": {"primaryCollection": "courses"}, "courses": [...], "terms": [...]}
//
// The first entity failing decode aborts the page with ErrDecode.
func NewUnwrapper[T any](decode DecodeFunc[T], joins ...Join) UnwrapFunc[T] {
	return func(body []byte) ([]T, error) {
		raws, err := primaryEntities(body, joins)
		if err != nil {
			return nil, err
		}
		out := make([]T, 0, len(raws))
		for i, raw := range raws {
			v, err := decode(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: entity %d: %v", ErrDecode, i, err)
			}
			out = append(out, v)
		}
		return out, nil
	}
}

type envelopeMeta struct {
	PrimaryCollection string `json:"primaryCollection"`
}

func primaryEntities(body []byte, joins []Join) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrDecode)
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return arr, nil
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	rawMeta, ok := env["meta"]
	if !ok {
		return nil, fmt.Errorf("%w: object response without meta", ErrDecode)
	}
	var meta envelopeMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil || meta.PrimaryCollection == "" {
		return nil, fmt.Errorf("%w: envelope without primary collection", ErrDecode)
	}
	var primary []json.RawMessage
	if err := json.Unmarshal(env[meta.PrimaryCollection], &primary); err != nil {
		return nil, fmt.Errorf("%w: primary collection %q: %v", ErrDecode, meta.PrimaryCollection, err)
	}

	for _, j := range joins {
		related, err := relatedByID(env, meta.PrimaryCollection, j.Collection)
		if err != nil {
			return nil, err
		}
		for i, raw := range primary {
			joined, err := joinEntity(raw, j, related)
			if err != nil {
				return nil, fmt.Errorf("%w: entity %d: %v", ErrDecode, i, err)
			}
			primary[i] = joined
		}
	}
	return primary, nil
}

// relatedByID indexes a side collection by entity id. Entities without an id
// are ignored.
func relatedByID(env map[string]json.RawMessage, primary, key string) (map[string]json.RawMessage, error) {
	if key == "" {
		keys := make([]string, 0, len(env))
		for k := range env {
			if k != "meta" && k != primary {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			return nil, nil
		}
		sort.Strings(keys)
		key = keys[0]
	}
	raw, ok := env[key]
	if !ok {
		return nil, nil
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: side collection %q: %v", ErrDecode, key, err)
	}
	out := make(map[string]json.RawMessage, len(items))
	for _, item := range items {
		id := idString(item["id"])
		if id == "" {
			continue
		}
		b, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("%w: side collection %q: %v", ErrDecode, key, err)
		}
		out[id] = b
	}
	return out, nil
}

func joinEntity(raw json.RawMessage, j Join, related map[string]json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if target, ok := related[idString(fields[j.ForeignKey])]; ok {
		fields[j.Field] = target
	} else {
		delete(fields, j.Field)
	}
	return json.Marshal(fields)
}

// idString renders a JSON string or number id as a plain string.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return string(bytes.TrimSpace(raw))
	default:
		return ""
	}
}
