// Package knowledge implements the in-memory knowledge repository: the
// authoritative store, its secondary indices, and the operations that
// keep them consistent with the vector store and cache.
package knowledge

import (
	"fmt"
	"time"
)

// Type is the closed set of knowledge item kinds.
type Type string

const (
	TypeFact      Type = "FACT"
	TypeRule      Type = "RULE"
	TypeProcedure Type = "PROCEDURE"
	TypeConcept   Type = "CONCEPT"
	TypeRelation  Type = "RELATION"
	TypeMetadata  Type = "METADATA"
	TypeOther     Type = "OTHER"
)

func (t Type) Valid() bool {
	switch t {
	case TypeFact, TypeRule, TypeProcedure, TypeConcept, TypeRelation, TypeMetadata, TypeOther:
		return true
	}
	return false
}

// Status is the closed set of lifecycle states a knowledge item can be in.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusActive     Status = "ACTIVE"
	StatusDeprecated Status = "DEPRECATED"
	StatusArchived   Status = "ARCHIVED"
	StatusInvalid    Status = "INVALID"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusDeprecated, StatusArchived, StatusInvalid:
		return true
	}
	return false
}

// Item is the central entity of the repository: a single versioned record.
//
// Mutation never happens in place once an item is committed to the store —
// Update produces a new Item linked back via PreviousVersionID.
type Item struct {
	ID                 string
	Type               Type
	Status             Status
	Topic              string
	Content            interface{}
	Vector             []float32
	Metadata           map[string]interface{}
	SourceID           string
	AccessControl      map[string]interface{}
	Tags               map[string]struct{}
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int
	PreviousVersionID  string
}

// Clone returns a deep-enough copy of the item so that store internals can
// hand out Items without callers being able to mutate index-relevant fields
// (Tags, Metadata, Vector) out from under the store.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	if i.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	if i.AccessControl != nil {
		c.AccessControl = make(map[string]interface{}, len(i.AccessControl))
		for k, v := range i.AccessControl {
			c.AccessControl[k] = v
		}
	}
	if i.Tags != nil {
		c.Tags = make(map[string]struct{}, len(i.Tags))
		for t := range i.Tags {
			c.Tags[t] = struct{}{}
		}
	}
	if i.Vector != nil {
		c.Vector = make([]float32, len(i.Vector))
		copy(c.Vector, i.Vector)
	}
	return &c
}

// TagSlice returns the item's tags as a sorted-by-insertion-irrelevant slice;
// callers needing deterministic order should sort the result themselves.
func (i *Item) TagSlice() []string {
	out := make([]string, 0, len(i.Tags))
	for t := range i.Tags {
		out = append(out, t)
	}
	return out
}

func (i *Item) HasTag(tag string) bool {
	_, ok := i.Tags[tag]
	return ok
}

// IsActive reports whether the item is in the ACTIVE lifecycle state.
func (i *Item) IsActive() bool {
	return i.Status == StatusActive
}

// UpdatePatch carries the optional fields an Update call may change.
type UpdatePatch struct {
	Content      interface{}
	HasContent   bool
	Vector       []float32
	HasVector    bool
	Metadata     map[string]interface{}
	Status       Status
	HasStatus    bool
	Tags         map[string]struct{}
	HasTags      bool
}

// Apply builds the successor Item for an update, per the merge semantics in
// SPEC_FULL.md §3: content/vector replace-if-given, metadata merges,
// tags replace wholesale if given, created_at carries over, updated_at
// refreshes, version increments by exactly one, previous_version_id points
// back to the item being superseded.
func (i *Item) Apply(newID string, patch UpdatePatch, now time.Time) *Item {
	next := &Item{
		ID:                newID,
		Type:              i.Type,
		Topic:             i.Topic,
		SourceID:          i.SourceID,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         now,
		Version:           i.Version + 1,
		PreviousVersionID: i.ID,
	}

	if i.AccessControl != nil {
		next.AccessControl = make(map[string]interface{}, len(i.AccessControl))
		for k, v := range i.AccessControl {
			next.AccessControl[k] = v
		}
	}

	if patch.HasContent {
		next.Content = patch.Content
	} else {
		next.Content = i.Content
	}

	if patch.HasVector {
		next.Vector = patch.Vector
	} else if i.Vector != nil {
		next.Vector = make([]float32, len(i.Vector))
		copy(next.Vector, i.Vector)
	}

	merged := make(map[string]interface{}, len(i.Metadata)+len(patch.Metadata))
	for k, v := range i.Metadata {
		merged[k] = v
	}
	for k, v := range patch.Metadata {
		merged[k] = v
	}
	next.Metadata = merged

	if patch.HasStatus {
		next.Status = patch.Status
	} else {
		next.Status = i.Status
	}

	if patch.HasTags {
		next.Tags = patch.Tags
	} else {
		next.Tags = make(map[string]struct{}, len(i.Tags))
		for t := range i.Tags {
			next.Tags[t] = struct{}{}
		}
	}

	return next
}

// Kind enumerates the abstract error categories from SPEC_FULL.md §7.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindAlreadyExists     Kind = "already_exists"
	KindValidationFailed  Kind = "validation_failed"
	KindEmbeddingFailed   Kind = "embedding_failed"
	KindVectorStoreFailed Kind = "vector_store_failed"
	KindCacheFailed       Kind = "cache_failed"
	KindBadRequest        Kind = "bad_request"
	KindCancelled         Kind = "cancelled"
	KindConflict          Kind = "conflict"
)

// Error is the repository's typed error, carrying an abstract Kind so
// callers can branch on category without string matching.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// IsKind reports whether err is a *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
