package models

import (
	"fmt"
	"strings"
)

// Source identifies the upstream database a structure came from.
type Source string

const (
	SourceRCSB      Source = "rcsb"
	SourceAlphaFold Source = "alphafold"
)

// Atom is a single ATOM or HETATM record. Coordinates are in Angstrom,
// origin as deposited. Atoms are never mutated after parsing.
type Atom struct {
	Name      string  `json:"name"`
	Element   string  `json:"element"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Het       bool    `json:"het,omitempty"`
	Occupancy float64 `json:"occupancy,omitempty"`
	BFactor   float64 `json:"b_factor,omitempty"`
}

// Residue groups the atoms of one residue within a chain.
type Residue struct {
	Name   string `json:"name"`
	SeqNum int    `json:"seq_num"`
	ICode  string `json:"insertion_code,omitempty"`
	Atoms  []Atom `json:"atoms"`
}

// Kind classifies a residue as "standard", "water" or "hetero".
func (r *Residue) Kind() string {
	switch {
	case r.Name == "HOH" || r.Name == "WAT":
		return "water"
	case len(r.Atoms) > 0 && r.Atoms[0].Het:
		return "hetero"
	default:
		return "standard"
	}
}

// Chain is an ordered sequence of residues. Residue sequence numbers are
// monotonic within a chain; gaps are allowed for missing density.
type Chain struct {
	ID       string    `json:"id"`
	Residues []Residue `json:"residues"`
}

// Structure is a parsed atomic structure keyed by accession id.
// Structures are immutable once parsed; mutation requests produce a copy.
type Structure struct {
	Accession  string  `json:"accession"`
	Source     Source  `json:"source"`
	Title      string  `json:"title,omitempty"`
	Method     string  `json:"method,omitempty"`
	Resolution float64 `json:"resolution,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Chains     []Chain `json:"chains"`
}

// Chain returns the chain with the given identifier, or nil.
func (s *Structure) Chain(id string) *Chain {
	for i := range s.Chains {
		if s.Chains[i].ID == id {
			return &s.Chains[i]
		}
	}
	return nil
}

// ChainIDs returns the chain identifiers in deposition order.
func (s *Structure) ChainIDs() []string {
	ids := make([]string, len(s.Chains))
	for i := range s.Chains {
		ids[i] = s.Chains[i].ID
	}
	return ids
}

// AtomCount counts all atoms across all chains.
func (s *Structure) AtomCount() int {
	n := 0
	for _, c := range s.Chains {
		for _, r := range c.Residues {
			n += len(r.Atoms)
		}
	}
	return n
}

// ProteinAtoms returns the non-water, non-hetero atoms of the selected
// chains, tagged with their residue. An empty selector means all chains.
func (s *Structure) ProteinAtoms(chains ...string) []PlacedAtom {
	want := make(map[string]bool, len(chains))
	for _, c := range chains {
		if c != "" {
			want[strings.ToUpper(c)] = true
		}
	}
	var out []PlacedAtom
	for ci := range s.Chains {
		c := &s.Chains[ci]
		if len(want) > 0 && !want[c.ID] {
			continue
		}
		for ri := range c.Residues {
			r := &c.Residues[ri]
			if r.Kind() != "standard" {
				continue
			}
			for ai := range r.Atoms {
				out = append(out, PlacedAtom{
					Atom:    r.Atoms[ai],
					Chain:   c.ID,
					ResName: r.Name,
					ResSeq:  r.SeqNum,
				})
			}
		}
	}
	return out
}

// Substitute returns a copy of the structure with one residue renamed and
// its side chain truncated to backbone atoms. The receiver is not modified.
func (s *Structure) Substitute(chainID string, seqNum int, newName string) (*Structure, error) {
	newName = strings.ToUpper(strings.TrimSpace(newName))
	dup := *s
	dup.Chains = make([]Chain, len(s.Chains))
	copy(dup.Chains, s.Chains)

	for ci := range dup.Chains {
		if dup.Chains[ci].ID != chainID {
			continue
		}
		residues := make([]Residue, len(dup.Chains[ci].Residues))
		copy(residues, dup.Chains[ci].Residues)
		dup.Chains[ci].Residues = residues
		for ri := range residues {
			if residues[ri].SeqNum != seqNum {
				continue
			}
			var backbone []Atom
			for _, a := range residues[ri].Atoms {
				switch a.Name {
				case "N", "CA", "C", "O", "CB":
					backbone = append(backbone, a)
				}
			}
			residues[ri] = Residue{
				Name:   newName,
				SeqNum: residues[ri].SeqNum,
				ICode:  residues[ri].ICode,
				Atoms:  backbone,
			}
			return &dup, nil
		}
		return nil, fmt.Errorf("residue %d not found in chain %s", seqNum, chainID)
	}
	return nil, fmt.Errorf("chain %s not found", chainID)
}

// PlacedAtom is an atom together with its residue context, the unit the
// pocket detector and docking receptor prep operate on.
type PlacedAtom struct {
	Atom
	Chain   string
	ResName string
	ResSeq  int
}

// ResidueRef identifies one residue, rendered as "A:ASP25".
type ResidueRef struct {
	Chain  string `json:"chain"`
	Name   string `json:"name"`
	SeqNum int    `json:"seq_num"`
}

func (r ResidueRef) String() string {
	return fmt.Sprintf("%s:%s%d", r.Chain, r.Name, r.SeqNum)
}

// Pocket is a connected cavity cluster with its contact residues and
// ranking metrics. Pockets are immutable and returned best-first.
type Pocket struct {
	Rank            int          `json:"rank"`
	Score           float64      `json:"druggability_score"`
	Volume          float64      `json:"volume_a3"`
	MeanBurial      float64      `json:"mean_burial"`
	HydrophobicFrac float64      `json:"hydrophobic_fraction"`
	Center          [3]float64   `json:"center_xyz"`
	VoxelCount      int          `json:"voxel_count"`
	Voxels          [][3]int     `json:"-"`
	VoxelCenters    [][3]float64 `json:"-"` // member voxel centers in Angstrom
	Residues        []ResidueRef `json:"residues"`
}

// Pose is one docked ligand placement with its predicted affinity.
// Lower affinity means stronger predicted binding.
type Pose struct {
	Rank      int          `json:"rank"`
	Affinity  float64      `json:"affinity_kcal_mol"`
	RMSDLower float64      `json:"rmsd_lb"`
	RMSDUpper float64      `json:"rmsd_ub"`
	Atoms     [][3]float64 `json:"atoms,omitempty"`
}

// DockingResult is the final state of one docking job.
type DockingResult struct {
	Receptor  string     `json:"receptor"`
	Ligand    string     `json:"ligand_smiles"`
	BoxCenter [3]float64 `json:"box_center"`
	BoxSize   [3]float64 `json:"box_size"`
	Poses     []Pose     `json:"poses"`
}
