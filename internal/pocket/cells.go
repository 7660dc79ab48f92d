package pocket

import (
	"sort"

	"github.com/proteosurf/proteosurf/internal/models"
)

// cellList is a spatial hash of atom indices with ContactDist-sized
// cells, so residue contact queries touch 27 cells instead of all atoms.
type cellList map[[3]int][]int

func cellOf(x, y, z float64) [3]int {
	return [3]int{
		int(floorDiv(x, ContactDist)),
		int(floorDiv(y, ContactDist)),
		int(floorDiv(z, ContactDist)),
	}
}

func floorDiv(v, d float64) float64 {
	q := v / d
	if q < 0 && q != float64(int(q)) {
		return float64(int(q)) - 1
	}
	return float64(int(q))
}

func buildCellList(atoms []models.PlacedAtom) cellList {
	cells := make(cellList)
	for i, a := range atoms {
		c := cellOf(a.X, a.Y, a.Z)
		cells[c] = append(cells[c], i)
	}
	return cells
}

func residuesNear(atoms []models.PlacedAtom, cells cellList, points [][3]float64, dist float64) []models.ResidueRef {
	d2 := dist * dist
	seen := make(map[models.ResidueRef]bool)
	for _, p := range points {
		c := cellOf(p[0], p[1], p[2])
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					for _, i := range cells[[3]int{c[0] + dx, c[1] + dy, c[2] + dz}] {
						a := &atoms[i]
						ddx, ddy, ddz := a.X-p[0], a.Y-p[1], a.Z-p[2]
						if ddx*ddx+ddy*ddy+ddz*ddz > d2 {
							continue
						}
						seen[models.ResidueRef{Chain: a.Chain, Name: a.ResName, SeqNum: a.ResSeq}] = true
					}
				}
			}
		}
	}

	refs := make([]models.ResidueRef, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Chain != refs[j].Chain {
			return refs[i].Chain < refs[j].Chain
		}
		return refs[i].SeqNum < refs[j].SeqNum
	})
	return refs
}
