package ligand

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proteosurf/proteosurf/internal/smiles"
)

func TestGenerateEmptyPocket(t *testing.T) {
	_, err := Generate(nil, 10)
	var perr *EmptyPocketError
	require.ErrorAs(t, err, &perr)

	_, err = Generate([]string{}, 10)
	require.ErrorAs(t, err, &perr)
}

func TestGenerateDeterministic(t *testing.T) {
	residues := []string{"A:ASP25", "A:GLU35", "A:LYS41", "A:SER70"}

	first, err := Generate(residues, 10)
	require.NoError(t, err)
	second, err := Generate(residues, 10)
	require.NoError(t, err)

	require.Equal(t, first.Dominant, second.Dominant)
	require.Equal(t, len(first.Candidates), len(second.Candidates))
	for i := range first.Candidates {
		require.Equal(t, first.Candidates[i].SMILES, second.Candidates[i].SMILES)
	}
}

func TestGenerateCandidatesAreValid(t *testing.T) {
	res, err := Generate([]string{"A:PHE10", "A:TYR20", "A:TRP30"}, 15)
	require.NoError(t, err)
	require.Equal(t, "aromatic", res.Dominant)
	require.NotEmpty(t, res.Candidates)

	seen := make(map[string]bool)
	for _, c := range res.Candidates {
		require.NoError(t, smiles.Validate(c.SMILES))
		require.True(t, c.PassesLipinski(), "candidate %q fails the filter", c.SMILES)
		require.False(t, seen[c.SMILES], "duplicate candidate %q", c.SMILES)
		seen[c.SMILES] = true
	}
}

func TestGenerateDominantCharacter(t *testing.T) {
	cases := []struct {
		residues []string
		want     string
	}{
		{[]string{"ASP", "GLU", "ALA"}, "charged"},
		{[]string{"PHE", "TYR", "SER"}, "aromatic"},
		{[]string{"SER", "THR", "ASN", "LEU"}, "polar"},
		{[]string{"LEU", "ILE", "VAL", "SER"}, "hydrophobic"},
		// HIS counts as both charged and aromatic; ties resolve to charged.
		{[]string{"HIS", "HIS"}, "charged"},
		// Unknown residues leave every class at zero; same tie-break.
		{[]string{"XYZ"}, "charged"},
	}
	for _, tc := range cases {
		res, err := Generate(tc.residues, 5)
		require.NoError(t, err)
		require.Equal(t, tc.want, res.Dominant, "residues %v", tc.residues)
	}
}

func TestGenerateCountBounds(t *testing.T) {
	residues := []string{"A:SER1", "A:THR2"}

	res, err := Generate(residues, 0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(res.Candidates), 10, "zero count falls back to the default")

	res, err = Generate(residues, 500)
	require.NoError(t, err)
	require.LessOrEqual(t, len(res.Candidates), 50)
}

func TestGenerateCharacterCounts(t *testing.T) {
	res, err := Generate([]string{"A:HIS57", "B:ASP102", "B:SER195"}, 5)
	require.NoError(t, err)
	require.Equal(t, 2, res.PocketCharacter["charged"], "HIS and ASP")
	require.Equal(t, 1, res.PocketCharacter["aromatic"], "HIS again")
	require.Equal(t, 1, res.PocketCharacter["polar"])
	require.Equal(t, 0, res.PocketCharacter["hydrophobic"])
}
