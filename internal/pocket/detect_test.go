package pocket

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proteosurf/proteosurf/internal/models"
)

// shellChain builds a hollow cube of single-atom residues: carbon atoms on
// a 2 A lattice over the surface of a cube with the given half-width,
// centered at (cx, cy, cz). The enclosed void is a fully buried cavity.
func shellChain(id string, half int, cx, cy, cz float64, startSeq int) models.Chain {
	names := []string{"LEU", "SER", "PHE", "ASP"}
	chain := models.Chain{ID: id}
	seq := startSeq
	for x := -half; x <= half; x += 2 {
		for y := -half; y <= half; y += 2 {
			for z := -half; z <= half; z += 2 {
				if abs(x) != half && abs(y) != half && abs(z) != half {
					continue
				}
				chain.Residues = append(chain.Residues, models.Residue{
					Name:   names[seq%len(names)],
					SeqNum: seq,
					Atoms: []models.Atom{{
						Name: "CA", Element: "C",
						X: cx + float64(x), Y: cy + float64(y), Z: cz + float64(z),
					}},
				})
				seq++
			}
		}
	}
	return chain
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func cavityStructure() *models.Structure {
	return &models.Structure{
		Accession: "SYNTH",
		Source:    models.SourceRCSB,
		Chains:    []models.Chain{shellChain("A", 8, 0, 0, 0, 1)},
	}
}

func TestDetectSingleBuriedCavity(t *testing.T) {
	s := cavityStructure()
	pockets := Detect(s, nil, SensitivityNormal)
	require.Len(t, pockets, 1, "a closed shell holds exactly one cavity")

	p := pockets[0]
	require.Equal(t, 1, p.Rank)
	require.Greater(t, p.Volume, minVolume)
	require.Greater(t, p.Score, 0.0)
	require.LessOrEqual(t, p.Score, 1.0)
	require.Greater(t, p.MeanBurial, 0.6, "an enclosed void is occluded almost everywhere")
	require.LessOrEqual(t, p.MeanBurial, 1.0)
	require.Equal(t, len(p.Voxels), p.VoxelCount)

	// The centroid of a symmetric cavity sits near the cube center.
	for k := 0; k < 3; k++ {
		require.InDelta(t, 0.0, p.Center[k], 1.5)
	}
	require.NotEmpty(t, p.Residues, "cavity walls are within contact distance")
	for _, r := range p.Residues {
		require.Equal(t, "A", r.Chain)
	}
}

func TestDetectDeterministic(t *testing.T) {
	s := cavityStructure()
	first := Detect(s, nil, SensitivityNormal)
	second := Detect(s, nil, SensitivityNormal)
	require.Equal(t, first, second)
}

func TestDetectEmptySelection(t *testing.T) {
	s := cavityStructure()
	require.Empty(t, Detect(s, []string{"Z"}, SensitivityNormal), "unmatched chain")

	waterOnly := &models.Structure{Chains: []models.Chain{{
		ID:       "A",
		Residues: []models.Residue{{Name: "HOH", SeqNum: 1, Atoms: []models.Atom{{Name: "O", Element: "O"}}}},
	}}}
	require.Empty(t, Detect(waterOnly, nil, SensitivityNormal), "no protein atoms")
}

func TestDetectRanking(t *testing.T) {
	// Two closed shells well apart: the bigger cavity must rank first.
	s := &models.Structure{
		Accession: "SYNTH2",
		Source:    models.SourceRCSB,
		Chains: []models.Chain{
			shellChain("A", 8, 0, 0, 0, 1),
			shellChain("B", 6, 40, 0, 0, 1000),
		},
	}
	pockets := Detect(s, nil, SensitivityNormal)
	require.Len(t, pockets, 2)

	require.Greater(t, pockets[0].Volume, pockets[1].Volume)
	require.GreaterOrEqual(t, pockets[0].Score, pockets[1].Score)
	require.InDelta(t, 0.0, pockets[0].Center[0], 1.5)
	require.InDelta(t, 40.0, pockets[1].Center[0], 1.5)
	for i, p := range pockets {
		require.Equal(t, i+1, p.Rank)
	}

	// Chain selection narrows detection to one shell.
	only := Detect(s, []string{"B"}, SensitivityNormal)
	require.Len(t, only, 1)
	require.InDelta(t, 40.0, only[0].Center[0], 1.5)
}

func TestDetectClustersAreConnected(t *testing.T) {
	s := cavityStructure()
	for _, p := range Detect(s, nil, SensitivityNormal) {
		require.True(t, connected26(p.Voxels), "pocket voxels must form one component")
	}
}

// connected26 checks that the voxel set is a single 26-connected component.
func connected26(voxels [][3]int) bool {
	if len(voxels) == 0 {
		return false
	}
	set := make(map[[3]int]bool, len(voxels))
	for _, v := range voxels {
		set[v] = true
	}
	seen := map[[3]int]bool{voxels[0]: true}
	queue := [][3]int{voxels[0]}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					n := [3]int{v[0] + dx, v[1] + dy, v[2] + dz}
					if set[n] && !seen[n] {
						seen[n] = true
						queue = append(queue, n)
					}
				}
			}
		}
	}
	return len(seen) == len(voxels)
}

func TestDetectSensitivityPresets(t *testing.T) {
	s := cavityStructure()

	low := Detect(s, nil, SensitivityLow)
	require.Len(t, low, 1, "coarse voxels still resolve a large cavity")

	// Unknown sensitivity falls back to normal.
	normal := Detect(s, nil, SensitivityNormal)
	fallback := Detect(s, nil, Sensitivity("bogus"))
	require.Equal(t, normal, fallback)
}

func TestDetectResidueRoundTrip(t *testing.T) {
	s := cavityStructure()
	pockets := Detect(s, nil, SensitivityNormal)
	require.Len(t, pockets, 1)

	p := pockets[0]
	require.Len(t, p.VoxelCenters, p.VoxelCount)

	// Re-querying with the pocket's own voxel centers at the contact
	// distance reproduces the residue list exactly.
	again := ResiduesNear(s, nil, p.VoxelCenters, ContactDist)
	require.Equal(t, p.Residues, again)
}

func TestResiduesNear(t *testing.T) {
	s := &models.Structure{Chains: []models.Chain{
		{ID: "B", Residues: []models.Residue{
			{Name: "GLY", SeqNum: 7, Atoms: []models.Atom{{Name: "CA", Element: "C", X: 50, Y: 0, Z: 0}}},
		}},
		{ID: "A", Residues: []models.Residue{
			{Name: "ASP", SeqNum: 25, Atoms: []models.Atom{{Name: "CA", Element: "C", X: 0, Y: 0, Z: 0}}},
			{Name: "THR", SeqNum: 26, Atoms: []models.Atom{{Name: "CA", Element: "C", X: 3, Y: 0, Z: 0}}},
		}},
	}}

	refs := ResiduesNear(s, nil, [][3]float64{{1, 0, 0}}, 4.5)
	require.Equal(t, []models.ResidueRef{
		{Chain: "A", Name: "ASP", SeqNum: 25},
		{Chain: "A", Name: "THR", SeqNum: 26},
	}, refs, "sorted by chain then sequence, far chain excluded")

	refs = ResiduesNear(s, nil, [][3]float64{{1, 0, 0}, {50, 0, 1}}, 4.5)
	require.Len(t, refs, 3)
	require.Equal(t, "A", refs[0].Chain)
	require.Equal(t, "B", refs[2].Chain)

	require.Empty(t, ResiduesNear(s, nil, nil, 4.5))
	require.Empty(t, ResiduesNear(s, nil, [][3]float64{{999, 999, 999}}, 4.5))
}
