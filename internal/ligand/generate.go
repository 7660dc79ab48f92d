// Package ligand generates candidate small-molecule notations for a
// pocket by combining library fragments matched to the pocket's residue
// character. Pure computation: a fixed PRNG seed and a fixed fragment
// library make the output a function of the input alone.
package ligand

import (
	"math/rand"
	"strings"

	"github.com/proteosurf/proteosurf/internal/smiles"
)

// EmptyPocketError reports a generation request with no pocket residues.
type EmptyPocketError struct{}

func (e *EmptyPocketError) Error() string {
	return "pocket residue list is empty"
}

const (
	maxCandidates = 50
	rngSeed       = 42
)

var (
	chargedResidues     = set("ASP", "GLU", "LYS", "ARG", "HIS")
	aromaticResidues    = set("PHE", "TYR", "TRP", "HIS")
	polarResidues       = set("SER", "THR", "ASN", "GLN", "CYS")
	hydrophobicResidues = set("ALA", "VAL", "LEU", "ILE", "MET", "PRO")

	fragmentsCharged     = []string{"C(=O)[O-]", "C(=O)O", "C[NH3+]", "C(=N)N", "c1cc[nH]c1"}
	fragmentsAromatic    = []string{"c1ccccc1", "c1ccncc1", "c1ccc2[nH]ccc2c1", "c1ccoc1", "c1ccsc1"}
	fragmentsPolar       = []string{"CO", "CN", "C(=O)N", "COC", "CSC", "C(=O)C", "NC(=O)C"}
	fragmentsHydrophobic = []string{"C", "CC", "C(C)C", "C1CCCCC1", "C1CCC1"}
)

// pools per dominant character; order inside each pool is part of the
// library version and must not be reshuffled.
var pools = map[string][]string{
	"charged":     concat(fragmentsCharged, fragmentsPolar),
	"aromatic":    concat(fragmentsAromatic, fragmentsPolar),
	"polar":       concat(fragmentsPolar, fragmentsCharged, fragmentsAromatic),
	"hydrophobic": concat(fragmentsHydrophobic, fragmentsAromatic),
}

// characterOrder fixes the dominant-character tie-break.
var characterOrder = []string{"charged", "aromatic", "polar", "hydrophobic"}

// Candidate is one generated ligand notation with descriptor estimates.
type Candidate struct {
	SMILES string `json:"smiles"`
	smiles.Props
}

// Result is the generation outcome for one pocket.
type Result struct {
	PocketCharacter map[string]int `json:"pocket_character"`
	Dominant        string         `json:"dominant_character"`
	Candidates      []Candidate    `json:"candidates"`
}

// Generate produces up to count syntactically valid, Lipinski-passing
// candidate notations for the pocket residues (formatted "A:ASP25" or
// bare three-letter codes). Same input, same library: same output.
func Generate(pocketResidues []string, count int) (*Result, error) {
	if len(pocketResidues) == 0 {
		return nil, &EmptyPocketError{}
	}
	if count <= 0 {
		count = 10
	}
	if count > maxCandidates {
		count = maxCandidates
	}

	character := classify(pocketResidues)
	dominant := dominantCharacter(character)
	pool := pools[dominant]

	rng := rand.New(rand.NewSource(rngSeed))
	seen := make(map[string]bool)
	result := &Result{
		PocketCharacter: character,
		Dominant:        dominant,
		Candidates:      []Candidate{},
	}

	for attempts := 0; len(result.Candidates) < count && attempts < count*20; attempts++ {
		nFrags := 2 + rng.Intn(4)
		var b strings.Builder
		for i := 0; i < nFrags; i++ {
			b.WriteString(pool[rng.Intn(len(pool))])
		}
		notation := b.String()

		if seen[notation] {
			continue
		}
		seen[notation] = true

		props, err := smiles.EstimateProps(notation)
		if err != nil {
			continue
		}
		if !props.PassesLipinski() {
			continue
		}
		result.Candidates = append(result.Candidates, Candidate{SMILES: notation, Props: props})
	}
	return result, nil
}

// classify counts residue-character membership. A residue can count for
// more than one class (HIS is both charged and aromatic).
func classify(residues []string) map[string]int {
	counts := map[string]int{"charged": 0, "aromatic": 0, "polar": 0, "hydrophobic": 0}
	for _, r := range residues {
		name := r
		if i := strings.LastIndex(r, ":"); i >= 0 {
			name = r[i+1:]
		}
		if len(name) > 3 {
			name = name[:3]
		}
		name = strings.ToUpper(name)
		if chargedResidues[name] {
			counts["charged"]++
		}
		if aromaticResidues[name] {
			counts["aromatic"]++
		}
		if polarResidues[name] {
			counts["polar"]++
		}
		if hydrophobicResidues[name] {
			counts["hydrophobic"]++
		}
	}
	return counts
}

func dominantCharacter(counts map[string]int) string {
	best := characterOrder[0]
	for _, c := range characterOrder[1:] {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func concat(slices ...[]string) []string {
	var out []string
	for _, s := range slices {
		out = append(out, s...)
	}
	return out
}
