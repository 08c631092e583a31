package knowledge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypeValid(t *testing.T) {
	assert.True(t, TypeFact.Valid())
	assert.True(t, TypeRule.Valid())
	assert.False(t, Type("NOT_A_TYPE").Valid())
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusActive.Valid())
	assert.False(t, Status("NOT_A_STATUS").Valid())
}

func TestItemCloneIsIndependent(t *testing.T) {
	item := &Item{
		ID:       "1",
		Metadata: map[string]interface{}{"a": 1},
		Tags:     map[string]struct{}{"x": {}},
		Vector:   []float32{1, 2, 3},
	}
	clone := item.Clone()

	clone.Metadata["a"] = 2
	clone.Tags["y"] = struct{}{}
	clone.Vector[0] = 99

	assert.Equal(t, 1, item.Metadata["a"])
	assert.NotContains(t, item.Tags, "y")
	assert.Equal(t, float32(1), item.Vector[0])
}

func TestItemCloneNil(t *testing.T) {
	var item *Item
	assert.Nil(t, item.Clone())
}

func TestHasTag(t *testing.T) {
	item := &Item{Tags: map[string]struct{}{"a": {}}}
	assert.True(t, item.HasTag("a"))
	assert.False(t, item.HasTag("b"))
}

func TestIsActive(t *testing.T) {
	item := &Item{Status: StatusActive}
	assert.True(t, item.IsActive())
	item.Status = StatusDraft
	assert.False(t, item.IsActive())
}

func TestApplyIncrementsVersionAndLinksPrevious(t *testing.T) {
	now := time.Now()
	created := now.Add(-time.Hour)
	prev := &Item{
		ID:        "1",
		Type:      TypeFact,
		Topic:     "t",
		Content:   "old",
		Metadata:  map[string]interface{}{"k": "v"},
		Tags:      map[string]struct{}{"a": {}},
		CreatedAt: created,
		UpdatedAt: created,
		Version:   1,
	}

	next := prev.Apply("2", UpdatePatch{Content: "new", HasContent: true}, now)

	assert.Equal(t, "2", next.ID)
	assert.Equal(t, "1", next.PreviousVersionID)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, "new", next.Content)
	assert.Equal(t, created, next.CreatedAt)
	assert.Equal(t, now, next.UpdatedAt)
	assert.Equal(t, "v", next.Metadata["k"])
	assert.True(t, next.HasTag("a"))
}

func TestApplyMergesMetadataWithoutDroppingExisting(t *testing.T) {
	prev := &Item{
		ID:       "1",
		Metadata: map[string]interface{}{"a": 1, "b": 2},
	}
	next := prev.Apply("2", UpdatePatch{Metadata: map[string]interface{}{"b": 3, "c": 4}}, time.Now())

	assert.Equal(t, 1, next.Metadata["a"])
	assert.Equal(t, 3, next.Metadata["b"])
	assert.Equal(t, 4, next.Metadata["c"])
}

func TestApplyReplacesTagsWhollyWhenGiven(t *testing.T) {
	prev := &Item{
		ID:   "1",
		Tags: map[string]struct{}{"a": {}, "b": {}},
	}
	next := prev.Apply("2", UpdatePatch{Tags: map[string]struct{}{"c": {}}, HasTags: true}, time.Now())

	assert.False(t, next.HasTag("a"))
	assert.True(t, next.HasTag("c"))
}

func TestErrorFormatting(t *testing.T) {
	err := newError(KindNotFound, "missing")
	assert.Contains(t, err.Error(), "not_found")
	assert.Contains(t, err.Error(), "missing")

	fieldErr := &Error{Kind: KindValidationFailed, Field: "topic", Message: "bad"}
	assert.Contains(t, fieldErr.Error(), "field=topic")

	wrapped := wrapError(KindCacheFailed, "failed", assert.AnError)
	assert.ErrorIs(t, wrapped, assert.AnError)
}

func TestIsKind(t *testing.T) {
	err := newError(KindNotFound, "missing")
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindAlreadyExists))
	assert.False(t, IsKind(assert.AnError, KindNotFound))
}
