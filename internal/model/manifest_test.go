package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManifest_AddFailureDeduplicates(t *testing.T) {
	t.Parallel()

	id := Identity{Name: "Springfield", State: "IL", ZipCode: "62701"}
	other := Identity{Name: "Springfield", State: "MO", ZipCode: "65801"}

	var m Manifest
	assert.False(t, m.HasFailed(id))

	m.AddFailure(id, StageResolve, "Location not found")
	m.AddFailure(id, StageGenerate, "should not land")
	m.AddFailure(other, StageResolve, "Location not found")

	assert.True(t, m.HasFailed(id))
	assert.True(t, m.HasFailed(other))
	if assert.Len(t, m.Failed, 2) {
		assert.Equal(t, StageResolve, m.Failed[0].Stage)
		assert.Equal(t, "Location not found", m.Failed[0].Reason)
		assert.Equal(t, other, m.Failed[1].Identity)
	}
}
