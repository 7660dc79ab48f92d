package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proteosurf/proteosurf/internal/models"
)

func TestSessionLifecycle(t *testing.T) {
	s := New()
	require.NotEmpty(t, s.ID())
	require.Nil(t, s.Current())

	st := &models.Structure{Accession: "1ABC"}
	s.SetCurrent(st)
	require.Same(t, st, s.Current())

	s.Clear()
	require.Nil(t, s.Current())
}

func TestSessionIDsAreUnique(t *testing.T) {
	require.NotEqual(t, New().ID(), New().ID())
}
