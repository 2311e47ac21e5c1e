package readview

import (
	"bytes"
	"encoding/json"
	"sort"
)

// sectionOrder fixes the top-level key order of rendered state documents.
// Keys outside the list are appended alphabetically.
var sectionOrder = []string{
	"identity",
	"currently_used_active_network",
	"network",
	"location",
	"power",
	"environment",
	"device_state",
	"sensors",
	"app_settings",
	"analysis",
	"ip_intelligence",
	"diagnostics",
}

// Document is a rendered state payload that marshals its sections in the
// fixed order. Nested maps marshal with encoding/json's sorted keys, so the
// whole output is stable.
type Document struct {
	Fields map[string]any
}

func (d *Document) MarshalJSON() ([]byte, error) {
	seen := make(map[string]bool, len(sectionOrder))
	keys := make([]string, 0, len(d.Fields))
	for _, k := range sectionOrder {
		if _, ok := d.Fields[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range d.Fields {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		val, err := json.Marshal(d.Fields[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
