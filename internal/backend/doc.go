package backend

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Field accessors, tolerant of the bson types the mongo driver decodes into.

// AsString read a string field
func (d Doc) AsString(key string) string {
	v, _ := d.lookup(key).(string)
	return v
}

// AsBool read a bool field
func (d Doc) AsBool(key string) bool {
	v, _ := d.lookup(key).(bool)
	return v
}

// AsInt read a numeric field
func (d Doc) AsInt(key string) int64 {
	switch v := d.lookup(key).(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// AsTime read a timestamp field, zero time when absent
func (d Doc) AsTime(key string) time.Time {
	switch v := d.lookup(key).(type) {
	case time.Time:
		return v
	case primitive.DateTime:
		return v.Time().UTC()
	default:
		return time.Time{}
	}
}

// AsDoc read a nested map field
func (d Doc) AsDoc(key string) Doc {
	switch v := d.lookup(key).(type) {
	case Doc:
		return v
	case map[string]interface{}:
		return Doc(v)
	case primitive.M:
		return Doc(v)
	default:
		return nil
	}
}

// AsStrSlice read a string array field
func (d Doc) AsStrSlice(key string) []string {
	var out []string
	switch v := d.lookup(key).(type) {
	case []string:
		return v
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	case primitive.A:
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Has report whether the field is present and non-nil
func (d Doc) Has(key string) bool {
	return d.lookup(key) != nil
}

// lookup supports dotted keys into nested maps
func (d Doc) lookup(key string) interface{} {
	if d == nil {
		return nil
	}
	if v, ok := d[key]; ok {
		return v
	}
	if !strings.Contains(key, ".") {
		return nil
	}
	parts := strings.SplitN(key, ".", 2)
	return d.AsDoc(parts[0]).lookup(parts[1])
}

// setPath write a possibly dotted key into nested maps, creating them
func (d Doc) setPath(key string, v interface{}) {
	if !strings.Contains(key, ".") {
		d[key] = v
		return
	}
	parts := strings.SplitN(key, ".", 2)
	child := d.AsDoc(parts[0])
	if child == nil {
		child = Doc{}
		d[parts[0]] = child
	}
	child.setPath(parts[1], v)
}

// deepMerge merge src into dst, nested maps merged field by field
func (d Doc) deepMerge(src Doc) {
	for k, v := range src {
		if sub, ok := asDocValue(v); ok {
			if cur := d.AsDoc(k); cur != nil {
				cur.deepMerge(sub)
				d[k] = cur
				continue
			}
		}
		d[k] = v
	}
}

// Clone deep copy, mutation of the copy never leaks into the original
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	out := Doc{}
	for k, v := range d {
		if sub, ok := asDocValue(v); ok {
			out[k] = sub.Clone()
			continue
		}
		if arr, ok := v.([]string); ok {
			cp := make([]string, len(arr))
			copy(cp, arr)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

func asDocValue(v interface{}) (Doc, bool) {
	switch t := v.(type) {
	case Doc:
		return t, true
	case map[string]interface{}:
		return Doc(t), true
	case primitive.M:
		return Doc(t), true
	default:
		return nil, false
	}
}
