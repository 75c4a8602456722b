package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaults(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Err.Error())
	assert.NotEmpty(t, ee.GetComponent(), "component is detected from the call stack")
	assert.NotEqual(t, "errors", ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.GetTimestamp().IsZero())
}

func TestBuilderSetsFields(t *testing.T) {
	t.Parallel()

	ee := Newf("record %s missing", "ABC-1").
		Component("curation").
		Category(CategoryNotFound).
		Priority(PriorityHigh).
		Context("process_id", "ABC-1").
		Build()

	assert.Equal(t, "record ABC-1 missing", ee.Error())
	assert.Equal(t, "curation", ee.GetComponent())
	assert.Equal(t, CategoryNotFound, ee.Category)
	assert.Equal(t, PriorityHigh, ee.GetPriority())
	assert.Equal(t, "ABC-1", ee.GetContext()["process_id"])
}

func TestInvalidPriorityFallsBackToMedium(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())
}

func TestCategoryHelpers(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("record not found")
	ee := New(sentinel).Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("lookup: %w", ee)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.True(t, Is(wrapped, sentinel))
	assert.Equal(t, CategoryNotFound, GetCategory(wrapped))
	assert.Equal(t, CategoryGeneric, GetCategory(NewStd("plain")))
}

func TestCategoryDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		component string
		want      ErrorCategory
	}{
		{"not found message", NewStd("species not found"), "", CategoryNotFound},
		{"invalid message", NewStd("invalid status"), "", CategoryValidation},
		{"datastore component", NewStd("disk I/O"), "datastore", CategoryDatabase},
		{"ingest component", NewStd("unexpected EOF"), "ingest", CategoryFileParsing},
		{"nested enhanced", New(NewStd("x")).Category(CategoryConflict).Build(), "", CategoryConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ee := New(tt.err).Component(tt.component).Build()
			assert.Equal(t, tt.want, ee.Category)
		})
	}
}

func TestGetContextReturnsCopy(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("locked")).Category(CategoryConflict).Context("scope", "Aus bus").Build()
	ctx := ee.GetContext()
	require.Equal(t, "Aus bus", ctx["scope"])

	ctx["scope"] = "changed"
	assert.Equal(t, "Aus bus", ee.GetContext()["scope"])
	assert.Nil(t, New(NewStd("bare")).Build().GetContext())
}

func TestLookupComponent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "datastore", lookupComponent("example.com/app/internal/datastore.(*gormStore).Find"))
	assert.Equal(t, "testing", lookupComponent("testing.tRunner"))
}

func TestEnhancedErrorIsMatchesCategory(t *testing.T) {
	t.Parallel()

	a := New(NewStd("a")).Category(CategoryDatabase).Build()
	b := New(NewStd("b")).Category(CategoryDatabase).Build()
	c := New(NewStd("c")).Category(CategoryValidation).Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}
