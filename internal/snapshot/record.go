// Package snapshot holds the in-memory representation of everything fetched
// from an OpenProject instance: raw HAL documents plus attachment payloads.
package snapshot

import (
	"strconv"
	"strings"
)

// Record is a single entity document as returned by the API v3. Documents are
// kept as decoded JSON rather than typed structs so that a backup/restore
// round trip preserves fields this tool does not know about.
type Record map[string]any

// ID returns the server-assigned numeric identifier, or 0 if absent.
func (r Record) ID() int64 {
	switch v := r["id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Str returns the string value of a top-level field, or "" if the field is
// absent or not a string.
func (r Record) Str(key string) string {
	s, _ := r[key].(string)
	return s
}

// RawText returns the "raw" member of a formattable field such as
// description or comment.
func (r Record) RawText(key string) string {
	m, ok := r[key].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["raw"].(string)
	return s
}

// Ref is a cross-entity link: the old numeric identifier plus the
// human-readable title the server attached to the link. Every relation in a
// snapshot is expressed this way so identity resolution can fall back to
// natural-key matching when numeric ids diverge between instances.
type Ref struct {
	Kind  string
	ID    int64
	Title string
}

// ParseHref splits an API v3 resource href like "/api/v3/projects/12" into
// its kind ("projects") and numeric id. ok is false for hrefs that do not
// end in a numeric id (collection links, "urn:openproject-org:api:v3:undisclosed").
func ParseHref(href string) (kind string, id int64, ok bool) {
	href = strings.TrimSuffix(href, "/")
	i := strings.LastIndex(href, "/")
	if i < 0 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(href[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	rest := href[:i]
	j := strings.LastIndex(rest, "/")
	if j < 0 {
		return "", 0, false
	}
	return rest[j+1:], id, true
}

func linkToRef(v any) (Ref, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Ref{}, false
	}
	href, _ := m["href"].(string)
	title, _ := m["title"].(string)
	kind, id, ok := ParseHref(href)
	if !ok {
		return Ref{}, false
	}
	return Ref{Kind: kind, ID: id, Title: title}, true
}

// Ref returns the single relation stored under _links.<rel>, if present and
// resolvable to a kind/id pair.
func (r Record) Ref(rel string) (Ref, bool) {
	links, ok := r["_links"].(map[string]any)
	if !ok {
		return Ref{}, false
	}
	return linkToRef(links[rel])
}

// Refs returns the relation under _links.<rel> as an ordered list. A relation
// holding a single link object yields a one-element list; role sets and other
// to-many relations come back in server order.
func (r Record) Refs(rel string) []Ref {
	links, ok := r["_links"].(map[string]any)
	if !ok {
		return nil
	}
	switch v := links[rel].(type) {
	case []any:
		var refs []Ref
		for _, item := range v {
			if ref, ok := linkToRef(item); ok {
				refs = append(refs, ref)
			}
		}
		return refs
	case map[string]any:
		if ref, ok := linkToRef(v); ok {
			return []Ref{ref}
		}
	}
	return nil
}

// LinkTitle returns the title of the relation under _links.<rel> even when
// the href cannot be parsed, so display code can name dangling references.
func (r Record) LinkTitle(rel string) string {
	links, ok := r["_links"].(map[string]any)
	if !ok {
		return ""
	}
	m, ok := links[rel].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["title"].(string)
	return s
}

// Embedded returns the list stored under _embedded.<key>. Both bare lists and
// collection documents ({"elements": [...]}) are accepted, since the API uses
// both shapes.
func (r Record) Embedded(key string) []Record {
	emb, ok := r["_embedded"].(map[string]any)
	if !ok {
		return nil
	}
	v := emb[key]
	if m, ok := v.(map[string]any); ok {
		v = m["elements"]
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	records := make([]Record, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			records = append(records, Record(m))
		}
	}
	return records
}

// SetEmbedded stores a list under _embedded.<key>, creating _embedded if
// needed. Used during extraction to nest sub-resources inside their parent
// document the way the archive format expects.
func (r Record) SetEmbedded(key string, items []Record) {
	emb, ok := r["_embedded"].(map[string]any)
	if !ok {
		emb = map[string]any{}
		r["_embedded"] = emb
	}
	list := make([]any, len(items))
	for i, item := range items {
		list[i] = map[string]any(item)
	}
	emb[key] = list
}
