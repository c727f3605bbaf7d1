package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUID_NewID(t *testing.T) {
	g := UUID{}
	a := g.NewID()
	b := g.NewID()

	_, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSequence_NewID(t *testing.T) {
	s := NewSequence("act")

	assert.Equal(t, "act-0001", s.NewID())
	assert.Equal(t, "act-0002", s.NewID())
	assert.Equal(t, "act-0003", s.NewID())
}
