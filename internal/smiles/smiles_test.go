package smiles

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAccepts(t *testing.T) {
	valid := []string{
		"C",
		"CCO",
		"CC(=O)Oc1ccccc1C(=O)O", // aspirin
		"c1ccccc1",
		"c1ccncc1",
		"c1cc[nH]c1", // pyrrole needs the explicit H exception
		"C1CCCCC1",
		"C%12CCCCC%12",
		"N#Cc1ccccc1",
		"C/C=C/C",
		"[NH4+]",
		"[O-]C(=O)C",
		"[13CH4]",
		"[Na+].[Cl-]",
		"CC(C)(C)C",
		"O=S(=O)(O)O", // sulfate, expanded valence
		"OP(=O)(O)O",
	}
	for _, s := range valid {
		require.NoError(t, Validate(s), "expected %q to be valid", s)
	}
}

func TestValidateRejects(t *testing.T) {
	invalid := []string{
		"",
		"   ",
		"C C",
		"C(",
		"C)C",
		"C1CC",
		"C=",
		"C==C",
		"C(=)C",
		"1CC",
		"C11",
		"[]C",
		"[C",
		"C%1C",
		"CQ",
		"C(=O)(=O)(=O)O", // pentavalent carbon
		"O=C(C)=O",
		"NC(N)(N)(N)N",
	}
	for _, s := range invalid {
		var lerr *InvalidLigandError
		err := Validate(s)
		require.Error(t, err, "expected %q to be rejected", s)
		require.ErrorAs(t, err, &lerr)
		require.Equal(t, s, lerr.SMILES)
	}
}

func TestParseGraph(t *testing.T) {
	mol, err := Parse("CC(=O)O") // acetic acid
	require.NoError(t, err)
	require.Len(t, mol.Atoms, 4)
	require.Len(t, mol.Bonds, 3)

	// Carbonyl bond carries order 2.
	var doubles int
	for _, b := range mol.Bonds {
		if b.Order == 2 {
			doubles++
		}
	}
	require.Equal(t, 1, doubles)

	// Methyl carbon carries three implicit hydrogens, hydroxyl oxygen one.
	require.Equal(t, 3, mol.ImplicitH(0))
	require.Equal(t, 1, mol.ImplicitH(3))
}

func TestParseAromaticRing(t *testing.T) {
	mol, err := Parse("c1ccccc1")
	require.NoError(t, err)
	require.Len(t, mol.Atoms, 6)
	require.Len(t, mol.Bonds, 6, "ring closure adds the sixth bond")
	for _, b := range mol.Bonds {
		require.Equal(t, 1.5, b.Order)
	}
}

func TestParseBracketCharge(t *testing.T) {
	mol, err := Parse("[NH4+]")
	require.NoError(t, err)
	require.Equal(t, 1, mol.Atoms[0].Charge)
	require.Equal(t, 4, mol.Atoms[0].ExplicitH)

	mol, err = Parse("[O-2]")
	require.NoError(t, err)
	require.Equal(t, -2, mol.Atoms[0].Charge)

	mol, err = Parse("[Fe++]")
	require.NoError(t, err)
	require.Equal(t, 2, mol.Atoms[0].Charge)
}

func TestEstimateProps(t *testing.T) {
	p, err := EstimateProps("O") // water
	require.NoError(t, err)
	require.Equal(t, 1, p.HeavyAtoms)
	require.InDelta(t, 18.02, p.MolWeight, 0.01)
	require.Equal(t, 1, p.HBD)
	require.Equal(t, 1, p.HBA)

	p, err = EstimateProps("CCO") // ethanol
	require.NoError(t, err)
	require.Equal(t, 3, p.HeavyAtoms)
	require.InDelta(t, 46.07, p.MolWeight, 0.01)
	require.Equal(t, 1, p.HBD)
	require.Equal(t, 1, p.HBA)

	p, err = EstimateProps("CC(=O)Oc1ccccc1C(=O)O") // aspirin
	require.NoError(t, err)
	require.Equal(t, 13, p.HeavyAtoms)
	require.Equal(t, 1, p.HBD)
	require.Equal(t, 4, p.HBA)

	_, err = EstimateProps("not smiles")
	require.Error(t, err)
}

func TestPassesLipinski(t *testing.T) {
	ok, err := EstimateProps("CCO")
	require.NoError(t, err)
	require.True(t, ok.PassesLipinski())

	// A long greasy chain blows both the weight and logP cutoffs.
	fat, err := EstimateProps(strings.Repeat("C", 40))
	require.NoError(t, err)
	require.False(t, fat.PassesLipinski())

	require.False(t, Props{MolWeight: 501}.PassesLipinski())
	require.False(t, Props{HBD: 6}.PassesLipinski())
	require.False(t, Props{HBA: 11}.PassesLipinski())
	require.False(t, Props{LogP: 5.1}.PassesLipinski())
}
