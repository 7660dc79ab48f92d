// Package pocket implements grid-based binding cavity detection.
//
// The detector voxelizes the padded bounding box of the selected atoms,
// marks van-der-Waals occupancy, scores every empty voxel by how many of
// 14 sampling directions are occluded, clusters buried voxels with
// 26-connectivity and ranks the resulting cavities by a druggability
// heuristic. The whole pass is pure computation over the input structure:
// identical input always yields an identical pocket list.
package pocket

import (
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/proteosurf/proteosurf/internal/metrics"
	"github.com/proteosurf/proteosurf/internal/models"
)

// Sensitivity selects the voxel resolution / burial tradeoff. Finer
// voxels resolve smaller cavities at cubically higher cost.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"    // 1.5 A voxels, strict burial
	SensitivityNormal Sensitivity = "normal" // 1.0 A voxels
	SensitivityHigh   Sensitivity = "high"   // 0.5 A voxels, permissive burial
)

type params struct {
	spacing   float64 // voxel edge, Angstrom
	burialMin int     // occluded directions (of 14) for a voxel to count as buried
}

var presets = map[Sensitivity]params{
	SensitivityLow:    {spacing: 1.5, burialMin: 11},
	SensitivityNormal: {spacing: 1.0, burialMin: 9},
	SensitivityHigh:   {spacing: 0.5, burialMin: 8},
}

// ContactDist is the voxel-to-atom distance within which a residue counts
// as lining a pocket. Re-querying ResiduesNear with a pocket's voxel
// centers and this distance reproduces the pocket's residue list.
const ContactDist = 4.5

const (
	probeRadius   = 1.4 // water probe
	solventPad    = 4.0 // bounding box margin
	minVolume     = 25.0
	maxPockets    = 10
	numDirections = 14
)

// 6 axis plus 8 diagonal sampling directions, in voxel steps.
var directions = [numDirections][3]int{
	{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1},
	{1, 1, 1}, {1, 1, -1}, {1, -1, 1}, {1, -1, -1},
	{-1, 1, 1}, {-1, 1, -1}, {-1, -1, 1}, {-1, -1, -1},
}

// vdwRadii by element symbol; elements not listed fall back to 1.70.
var vdwRadii = map[string]float64{
	"H": 1.20, "C": 1.70, "N": 1.55, "O": 1.52,
	"S": 1.80, "P": 1.80, "F": 1.47, "CL": 1.75,
	"BR": 1.85, "I": 1.98, "FE": 2.00, "ZN": 2.10, "MG": 1.73,
}

var hydrophobicResidues = map[string]bool{
	"ALA": true, "VAL": true, "LEU": true, "ILE": true,
	"MET": true, "PHE": true, "TRP": true, "PRO": true,
}

type grid struct {
	origin     [3]float64
	spacing    float64
	nx, ny, nz int
	occupied   []bool
	burial     []uint8 // occluded direction count, empty voxels only
}

func (g *grid) index(x, y, z int) int { return x + g.nx*(y+g.ny*z) }

func (g *grid) center(x, y, z int) [3]float64 {
	return [3]float64{
		g.origin[0] + (float64(x)+0.5)*g.spacing,
		g.origin[1] + (float64(y)+0.5)*g.spacing,
		g.origin[2] + (float64(z)+0.5)*g.spacing,
	}
}

// Detect finds candidate binding cavities on the selected chains. An
// empty selector means all chains; an unmatched selector or a zero-atom
// selection returns an empty list, not an error.
func Detect(s *models.Structure, chains []string, sens Sensitivity) []models.Pocket {
	start := time.Now()
	defer func() { metrics.PocketDetections.Observe(time.Since(start).Seconds()) }()

	p, ok := presets[sens]
	if !ok {
		p = presets[SensitivityNormal]
	}

	atoms := s.ProteinAtoms(chains...)
	if len(atoms) == 0 {
		return nil
	}

	g := buildGrid(atoms, p.spacing)
	markOccupancy(g, atoms)
	markBurial(g)

	clusters := clusterBuried(g, p.burialMin)
	minVoxels := int(math.Ceil(minVolume / (p.spacing * p.spacing * p.spacing)))

	cells := buildCellList(atoms)
	var pockets []models.Pocket
	for _, cluster := range clusters {
		if len(cluster) < minVoxels {
			continue
		}
		pockets = append(pockets, summarize(g, cluster, atoms, cells))
	}

	sortPockets(pockets)
	if len(pockets) > maxPockets {
		pockets = pockets[:maxPockets]
	}
	for i := range pockets {
		pockets[i].Rank = i + 1
	}
	return pockets
}

// ResiduesNear returns the residues with any atom within dist of any of
// the given points, sorted by chain then sequence number. Used by Detect
// for pocket contacts and exposed for re-querying a pocket's residue set.
func ResiduesNear(s *models.Structure, chains []string, points [][3]float64, dist float64) []models.ResidueRef {
	atoms := s.ProteinAtoms(chains...)
	if len(atoms) == 0 || len(points) == 0 {
		return nil
	}
	cells := buildCellList(atoms)
	return residuesNear(atoms, cells, points, dist)
}

func buildGrid(atoms []models.PlacedAtom, spacing float64) *grid {
	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, a := range atoms {
		for i, v := range [3]float64{a.X, a.Y, a.Z} {
			lo[i] = math.Min(lo[i], v)
			hi[i] = math.Max(hi[i], v)
		}
	}
	for i := range lo {
		lo[i] -= solventPad
		hi[i] += solventPad
	}

	g := &grid{origin: lo, spacing: spacing}
	g.nx = int(math.Ceil((hi[0]-lo[0])/spacing)) + 1
	g.ny = int(math.Ceil((hi[1]-lo[1])/spacing)) + 1
	g.nz = int(math.Ceil((hi[2]-lo[2])/spacing)) + 1
	n := g.nx * g.ny * g.nz
	g.occupied = make([]bool, n)
	g.burial = make([]uint8, n)
	return g
}

// markOccupancy flags every voxel whose center lies within vdW+probe of
// an atom. Each atom only touches the voxel cube around its own radius.
func markOccupancy(g *grid, atoms []models.PlacedAtom) {
	for _, a := range atoms {
		r := vdwRadius(a.Element) + probeRadius
		r2 := r * r
		x0 := int(math.Floor((a.X - r - g.origin[0]) / g.spacing))
		x1 := int(math.Ceil((a.X + r - g.origin[0]) / g.spacing))
		y0 := int(math.Floor((a.Y - r - g.origin[1]) / g.spacing))
		y1 := int(math.Ceil((a.Y + r - g.origin[1]) / g.spacing))
		z0 := int(math.Floor((a.Z - r - g.origin[2]) / g.spacing))
		z1 := int(math.Ceil((a.Z + r - g.origin[2]) / g.spacing))
		for z := max(z0, 0); z <= z1 && z < g.nz; z++ {
			for y := max(y0, 0); y <= y1 && y < g.ny; y++ {
				for x := max(x0, 0); x <= x1 && x < g.nx; x++ {
					c := g.center(x, y, z)
					dx, dy, dz := c[0]-a.X, c[1]-a.Y, c[2]-a.Z
					if dx*dx+dy*dy+dz*dz <= r2 {
						g.occupied[g.index(x, y, z)] = true
					}
				}
			}
		}
	}
}

// markBurial casts a ray from every empty voxel along each sampling
// direction and counts directions blocked by an occupied voxel. The work
// is partitioned into z-slabs across workers; slabs write disjoint index
// ranges of g.burial, so the merge is free.
func markBurial(g *grid) {
	workers := runtime.GOMAXPROCS(0)
	if workers > g.nz {
		workers = g.nz
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	slab := (g.nz + workers - 1) / workers
	for w := 0; w < workers; w++ {
		z0, z1 := w*slab, (w+1)*slab
		if z1 > g.nz {
			z1 = g.nz
		}
		if z0 >= z1 {
			continue
		}
		wg.Add(1)
		go func(z0, z1 int) {
			defer wg.Done()
			for z := z0; z < z1; z++ {
				for y := 0; y < g.ny; y++ {
					for x := 0; x < g.nx; x++ {
						i := g.index(x, y, z)
						if g.occupied[i] {
							continue
						}
						g.burial[i] = occludedDirections(g, x, y, z)
					}
				}
			}
		}(z0, z1)
	}
	wg.Wait()
}

func occludedDirections(g *grid, x, y, z int) uint8 {
	var n uint8
	for _, d := range directions {
		cx, cy, cz := x, y, z
		for {
			cx += d[0]
			cy += d[1]
			cz += d[2]
			if cx < 0 || cy < 0 || cz < 0 || cx >= g.nx || cy >= g.ny || cz >= g.nz {
				break
			}
			if g.occupied[g.index(cx, cy, cz)] {
				n++
				break
			}
		}
	}
	return n
}

// clusterBuried groups buried voxels into 26-connected components.
// Scanning in linear index order keeps the component order deterministic.
func clusterBuried(g *grid, burialMin int) [][][3]int {
	visited := make([]bool, len(g.burial))
	buried := func(x, y, z int) bool {
		i := g.index(x, y, z)
		return !g.occupied[i] && int(g.burial[i]) >= burialMin
	}

	var clusters [][][3]int
	for z := 0; z < g.nz; z++ {
		for y := 0; y < g.ny; y++ {
			for x := 0; x < g.nx; x++ {
				i := g.index(x, y, z)
				if visited[i] || !buried(x, y, z) {
					continue
				}
				var cluster [][3]int
				queue := [][3]int{{x, y, z}}
				visited[i] = true
				for len(queue) > 0 {
					v := queue[0]
					queue = queue[1:]
					cluster = append(cluster, v)
					for dz := -1; dz <= 1; dz++ {
						for dy := -1; dy <= 1; dy++ {
							for dx := -1; dx <= 1; dx++ {
								if dx == 0 && dy == 0 && dz == 0 {
									continue
								}
								nx, ny, nz := v[0]+dx, v[1]+dy, v[2]+dz
								if nx < 0 || ny < 0 || nz < 0 || nx >= g.nx || ny >= g.ny || nz >= g.nz {
									continue
								}
								j := g.index(nx, ny, nz)
								if !visited[j] && buried(nx, ny, nz) {
									visited[j] = true
									queue = append(queue, [3]int{nx, ny, nz})
								}
							}
						}
					}
				}
				clusters = append(clusters, cluster)
			}
		}
	}
	return clusters
}

func summarize(g *grid, cluster [][3]int, atoms []models.PlacedAtom, cells cellList) models.Pocket {
	var center [3]float64
	var burialSum float64
	points := make([][3]float64, len(cluster))
	for i, v := range cluster {
		c := g.center(v[0], v[1], v[2])
		points[i] = c
		for k := 0; k < 3; k++ {
			center[k] += c[k]
		}
		burialSum += float64(g.burial[g.index(v[0], v[1], v[2])]) / numDirections
	}
	for k := 0; k < 3; k++ {
		center[k] /= float64(len(cluster))
	}

	residues := residuesNear(atoms, cells, points, ContactDist)

	hydro := 0
	for _, r := range residues {
		if hydrophobicResidues[r.Name] {
			hydro++
		}
	}
	hydroFrac := 0.0
	if len(residues) > 0 {
		hydroFrac = float64(hydro) / float64(len(residues))
	}

	volume := float64(len(cluster)) * g.spacing * g.spacing * g.spacing
	meanBurial := burialSum / float64(len(cluster))

	return models.Pocket{
		Score:           druggability(volume, meanBurial, hydroFrac),
		Volume:          round2(volume),
		MeanBurial:      round2(meanBurial),
		HydrophobicFrac: round2(hydroFrac),
		Center:          [3]float64{round2(center[0]), round2(center[1]), round2(center[2])},
		VoxelCount:      len(cluster),
		Voxels:          cluster,
		VoxelCenters:    points,
		Residues:        residues,
	}
}

// druggability blends pocket size, enclosure and hydrophobic lining into
// one ranking scalar in [0,1). The volume term saturates around the size
// of a typical drug-binding site so huge channels do not dominate.
func druggability(volume, meanBurial, hydroFrac float64) float64 {
	volTerm := volume / (volume + 300.0)
	return round3(0.5*volTerm + 0.3*meanBurial + 0.2*hydroFrac)
}

func sortPockets(pockets []models.Pocket) {
	sort.SliceStable(pockets, func(i, j int) bool {
		a, b := &pockets[i], &pockets[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Volume != b.Volume {
			return a.Volume > b.Volume
		}
		return minSeqNum(a.Residues) < minSeqNum(b.Residues)
	})
}

func minSeqNum(residues []models.ResidueRef) int {
	m := math.MaxInt
	for _, r := range residues {
		if r.SeqNum < m {
			m = r.SeqNum
		}
	}
	return m
}

func vdwRadius(element string) float64 {
	if r, ok := vdwRadii[element]; ok {
		return r
	}
	return 1.70
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
