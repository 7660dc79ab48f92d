package smiles

import "math"

// Props are the coarse descriptors the candidate generator filters on.
// They are additive estimates over the parsed graph, good enough for a
// Lipinski-style cutoff, not for reporting as measured values.
type Props struct {
	HeavyAtoms int     `json:"num_atoms"`
	MolWeight  float64 `json:"mol_weight"`
	LogP       float64 `json:"logP"`
	HBD        int     `json:"hbd"`
	HBA        int     `json:"hba"`
}

var atomicWeights = map[string]float64{
	"H": 1.008, "B": 10.81, "C": 12.011, "N": 14.007, "O": 15.999,
	"F": 18.998, "P": 30.974, "S": 32.06, "Cl": 35.45, "Br": 79.904, "I": 126.904,
}

// logP atom contributions, a crude Crippen-style additive scheme.
var logPContrib = map[string]float64{
	"C": 0.36, "S": 0.25, "P": 0.0, "B": 0.0,
	"N": -0.60, "O": -0.63,
	"F": 0.22, "Cl": 0.65, "Br": 0.85, "I": 1.10,
}

// EstimateProps parses the notation and computes descriptor estimates.
func EstimateProps(s string) (Props, error) {
	mol, err := Parse(s)
	if err != nil {
		return Props{}, err
	}

	var p Props
	p.HeavyAtoms = len(mol.Atoms)
	for i := range mol.Atoms {
		a := &mol.Atoms[i]
		h := mol.ImplicitH(i)

		if w, ok := atomicWeights[a.Symbol]; ok {
			p.MolWeight += w
		} else {
			p.MolWeight += 50 // unknown heavy element, rough placeholder
		}
		p.MolWeight += float64(h) * atomicWeights["H"]

		if c, ok := logPContrib[a.Symbol]; ok {
			p.LogP += c
		}
		if a.Charge != 0 {
			p.LogP -= 1.0
		}

		switch a.Symbol {
		case "N", "O":
			p.HBA++
			if h > 0 {
				p.HBD++
			}
		}
	}

	p.MolWeight = math.Round(p.MolWeight*100) / 100
	p.LogP = math.Round(p.LogP*100) / 100
	return p, nil
}

// PassesLipinski applies the rule-of-five cutoffs used to filter
// generated candidates.
func (p Props) PassesLipinski() bool {
	return p.MolWeight <= 500 && p.LogP <= 5 && p.HBD <= 5 && p.HBA <= 10
}
