package knowledge

import "sort"

// ToWire renders the item per the event-bus wire contract: scalar fields
// plus knowledge_type/status as their enum names, timestamps as ISO-8601
// UTC strings, vector as a list of floats (or nil), and tags as a sorted
// JSON array for deterministic output.
func (i *Item) ToWire() map[string]interface{} {
	tags := i.TagSlice()
	sort.Strings(tags)

	var vec []float32
	if i.Vector != nil {
		vec = make([]float32, len(i.Vector))
		copy(vec, i.Vector)
	}

	return map[string]interface{}{
		"knowledge_id":         i.ID,
		"knowledge_type":       string(i.Type),
		"status":               string(i.Status),
		"topic":                i.Topic,
		"content":              i.Content,
		"vector":               vec,
		"metadata":             i.Metadata,
		"source_id":            i.SourceID,
		"access_control":       i.AccessControl,
		"tags":                 tags,
		"created_at":           i.CreatedAt.UTC().Format(ISOTimeFormat),
		"updated_at":           i.UpdatedAt.UTC().Format(ISOTimeFormat),
		"version":              i.Version,
		"previous_version_id":  i.PreviousVersionID,
	}
}

// ISOTimeFormat is the wire-contract timestamp layout: ISO-8601 UTC.
const ISOTimeFormat = "2006-01-02T15:04:05.000Z07:00"
