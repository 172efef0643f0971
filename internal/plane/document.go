// Package plane implements the shared plane document: a versioned, namespaced
// key/value store with an append-only operation journal, persisted as a single
// JSON file that cooperating agent processes read and mutate in turn.
package plane

import "encoding/json"

// DocumentVersion is the current on-disk schema version.
const DocumentVersion = 1

// Journal operation kinds.
const (
	OpSet    = "set"
	OpAppend = "append"
)

// Document is the on-disk unit of the plane store.
type Document struct {
	Version    int                       `json:"version"`
	CreatedAt  string                    `json:"createdAt"`
	UpdatedAt  string                    `json:"updatedAt"`
	Namespaces map[string]map[string]any `json:"namespaces"`
	Journal    []JournalEntry            `json:"journal"`
}

// JournalEntry records one store mutation. The journal is audit material;
// namespace values themselves are the source of truth.
type JournalEntry struct {
	TS        string         `json:"ts"`
	Op        string         `json:"op"`
	Namespace string         `json:"namespace"`
	Key       string         `json:"key"`
	Meta      map[string]any `json:"meta,omitempty"`
}

func newDocument(ts string) *Document {
	return &Document{
		Version:    DocumentVersion,
		CreatedAt:  ts,
		UpdatedAt:  ts,
		Namespaces: map[string]map[string]any{},
		Journal:    []JournalEntry{},
	}
}

// normalize repairs structural violations in place so callers never see
// malformed shapes: nil maps become empty maps and the version is pinned to a
// positive value.
func (d *Document) normalize() {
	if d.Version <= 0 {
		d.Version = DocumentVersion
	}
	if d.Namespaces == nil {
		d.Namespaces = map[string]map[string]any{}
	}
	for name, ns := range d.Namespaces {
		if ns == nil {
			d.Namespaces[name] = map[string]any{}
		}
	}
	if d.Journal == nil {
		d.Journal = []JournalEntry{}
	}
}

// normalizeDocument coerces an arbitrary decoded JSON value into a valid
// Document. A non-object top level yields an empty document; a non-object
// namespace value is reset to an empty map; journal entries that are not
// objects are dropped. fallbackTS seeds timestamps that are missing.
func normalizeDocument(raw any, fallbackTS string) *Document {
	doc := newDocument(fallbackTS)
	obj, ok := raw.(map[string]any)
	if !ok {
		return doc
	}
	if v, ok := obj["version"].(float64); ok && v > 0 {
		doc.Version = int(v)
	}
	if s, ok := obj["createdAt"].(string); ok && s != "" {
		doc.CreatedAt = s
	}
	if s, ok := obj["updatedAt"].(string); ok && s != "" {
		doc.UpdatedAt = s
	}
	if spaces, ok := obj["namespaces"].(map[string]any); ok {
		for name, val := range spaces {
			ns, ok := val.(map[string]any)
			if !ok {
				doc.Namespaces[name] = map[string]any{}
				continue
			}
			doc.Namespaces[name] = ns
		}
	}
	if entries, ok := obj["journal"].([]any); ok {
		for _, item := range entries {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			entry := JournalEntry{}
			entry.TS, _ = m["ts"].(string)
			entry.Op, _ = m["op"].(string)
			entry.Namespace, _ = m["namespace"].(string)
			entry.Key, _ = m["key"].(string)
			if meta, ok := m["meta"].(map[string]any); ok {
				entry.Meta = meta
			}
			doc.Journal = append(doc.Journal, entry)
		}
	}
	return doc
}

// decodeValue applies the store's value-decoding policy: string values are
// best-effort decoded as JSON, falling back to the raw string when they do
// not parse. Non-string values pass through untouched.
func decodeValue(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return s
	}
	return decoded
}
