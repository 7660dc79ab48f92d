// Package smiles parses small-molecule SMILES notation far enough to
// validate syntax, reject impossible valences and estimate the simple
// physicochemical properties the candidate generator filters on. It is
// not a chemistry engine; 3D embedding is delegated to external tools.
package smiles

import (
	"fmt"
	"strings"
)

// InvalidLigandError reports a SMILES string that failed validation.
// Raised before any external process sees the input.
type InvalidLigandError struct {
	SMILES string
	Reason string
}

func (e *InvalidLigandError) Error() string {
	return fmt.Sprintf("invalid ligand %q: %s", e.SMILES, e.Reason)
}

// Atom is one parsed heavy atom.
type Atom struct {
	Symbol    string
	Aromatic  bool
	Charge    int
	ExplicitH int  // only set for bracket atoms
	Bracket   bool // written as [..]
	bondSum   float64
	degree    int
}

// Bond connects two atoms by index.
type Bond struct {
	A, B  int
	Order float64 // 1, 1.5 (aromatic), 2, 3
}

// Mol is the parsed connectivity of one SMILES string.
type Mol struct {
	Atoms []Atom
	Bonds []Bond
}

// organic subset atoms that may appear without brackets.
var organicSubset = map[string]bool{
	"B": true, "C": true, "N": true, "O": true, "P": true, "S": true,
	"F": true, "Cl": true, "Br": true, "I": true,
}

var aromaticSubset = map[string]bool{
	"b": true, "c": true, "n": true, "o": true, "p": true, "s": true,
}

// defaultValence per element for implicit hydrogen counting.
var defaultValence = map[string]int{
	"B": 3, "C": 4, "N": 3, "O": 2, "P": 3, "S": 2,
	"F": 1, "Cl": 1, "Br": 1, "I": 1,
}

// Validate checks syntax and valence. A nil return means the notation is
// safe to hand to an external conformer generator.
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

// Parse tokenizes and connects a SMILES string, returning the molecular
// graph. Branches, ring closures, bond orders, bracket atoms with charge
// and explicit hydrogens, and dot-separated fragments are understood.
func Parse(s string) (*Mol, error) {
	if strings.TrimSpace(s) == "" {
		return nil, &InvalidLigandError{SMILES: s, Reason: "empty notation"}
	}
	if strings.ContainsAny(s, " \t\n") {
		return nil, &InvalidLigandError{SMILES: s, Reason: "whitespace in notation"}
	}

	p := &parser{input: s, mol: &Mol{}, prev: -1, rings: make(map[int]ringOpen)}
	if err := p.run(); err != nil {
		return nil, err
	}
	if err := p.checkValence(); err != nil {
		return nil, err
	}
	return p.mol, nil
}

type ringOpen struct {
	atom  int
	order float64
}

type parser struct {
	input string
	pos   int
	mol   *Mol

	prev      int // index of the atom the next atom bonds to, -1 at start
	stack     []int
	rings     map[int]ringOpen
	nextOrder float64 // pending explicit bond order, 0 = unset
}

func (p *parser) fail(reason string) error {
	return &InvalidLigandError{SMILES: p.input, Reason: fmt.Sprintf("%s at position %d", reason, p.pos)}
}

func (p *parser) run() error {
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch {
		case c == '(':
			if p.prev < 0 {
				return p.fail("branch before any atom")
			}
			p.stack = append(p.stack, p.prev)
			p.pos++
		case c == ')':
			if len(p.stack) == 0 {
				return p.fail("unmatched ')'")
			}
			if p.nextOrder != 0 {
				return p.fail("dangling bond before ')'")
			}
			p.prev = p.stack[len(p.stack)-1]
			p.stack = p.stack[:len(p.stack)-1]
			p.pos++
		case c == '-' || c == '=' || c == '#' || c == ':' || c == '/' || c == '\\' || c == '~':
			if p.nextOrder != 0 {
				return p.fail("consecutive bond symbols")
			}
			p.nextOrder = bondOrder(c)
			p.pos++
		case c == '.':
			if p.nextOrder != 0 {
				return p.fail("bond before '.'")
			}
			p.prev = -1
			p.pos++
		case c >= '0' && c <= '9':
			if err := p.ringBond(int(c - '0')); err != nil {
				return err
			}
			p.pos++
		case c == '%':
			if p.pos+2 >= len(p.input) || !isDigit(p.input[p.pos+1]) || !isDigit(p.input[p.pos+2]) {
				return p.fail("'%' needs two digits")
			}
			n := int(p.input[p.pos+1]-'0')*10 + int(p.input[p.pos+2]-'0')
			if err := p.ringBond(n); err != nil {
				return err
			}
			p.pos += 3
		case c == '[':
			if err := p.bracketAtom(); err != nil {
				return err
			}
		default:
			if err := p.organicAtom(); err != nil {
				return err
			}
		}
	}
	if len(p.stack) > 0 {
		return p.fail("unclosed '('")
	}
	if p.nextOrder != 0 {
		return p.fail("dangling bond at end")
	}
	if len(p.rings) > 0 {
		return &InvalidLigandError{SMILES: p.input, Reason: "unclosed ring bond"}
	}
	if len(p.mol.Atoms) == 0 {
		return &InvalidLigandError{SMILES: p.input, Reason: "no atoms"}
	}
	return nil
}

func (p *parser) ringBond(n int) error {
	if p.prev < 0 {
		return p.fail("ring closure before any atom")
	}
	order := p.nextOrder
	p.nextOrder = 0
	if open, ok := p.rings[n]; ok {
		delete(p.rings, n)
		if open.atom == p.prev {
			return p.fail("ring bond to self")
		}
		if order == 0 {
			order = open.order
		}
		if order == 0 {
			order = impliedOrder(p.mol.Atoms[open.atom], p.mol.Atoms[p.prev])
		}
		p.addBond(open.atom, p.prev, order)
		return nil
	}
	p.rings[n] = ringOpen{atom: p.prev, order: order}
	return nil
}

func (p *parser) organicAtom() error {
	c := p.input[p.pos]
	// Two-letter organic subset first.
	if p.pos+1 < len(p.input) {
		two := p.input[p.pos : p.pos+2]
		if two == "Cl" || two == "Br" {
			p.addAtom(Atom{Symbol: two})
			p.pos += 2
			return nil
		}
	}
	sym := string(c)
	switch {
	case organicSubset[sym]:
		p.addAtom(Atom{Symbol: sym})
	case aromaticSubset[sym]:
		p.addAtom(Atom{Symbol: strings.ToUpper(sym), Aromatic: true})
	default:
		return p.fail(fmt.Sprintf("unexpected character %q", c))
	}
	p.pos++
	return nil
}

// bracketAtom reads [<isotope>symbol<chirality><Hcount><charge>].
func (p *parser) bracketAtom() error {
	end := strings.IndexByte(p.input[p.pos:], ']')
	if end < 0 {
		return p.fail("unclosed '['")
	}
	body := p.input[p.pos+1 : p.pos+end]
	start := p.pos
	p.pos += end + 1
	if body == "" {
		p.pos = start
		return p.fail("empty brackets")
	}

	i := 0
	for i < len(body) && isDigit(body[i]) { // isotope
		i++
	}
	if i >= len(body) {
		p.pos = start
		return p.fail("no element in brackets")
	}

	var sym string
	aromatic := false
	if body[i] >= 'A' && body[i] <= 'Z' {
		sym = string(body[i])
		i++
		if i < len(body) && body[i] >= 'a' && body[i] <= 'z' && body[i] != 'h' {
			// Two-letter element, e.g. Cl, Zn, Se.
			sym += string(body[i])
			i++
		}
	} else if aromaticSubset[string(body[i])] {
		sym = strings.ToUpper(string(body[i]))
		aromatic = true
		i++
	} else {
		p.pos = start
		return p.fail("invalid element in brackets")
	}

	atom := Atom{Symbol: sym, Aromatic: aromatic, Bracket: true}
	for i < len(body) {
		switch body[i] {
		case '@': // chirality markers are accepted and ignored
			i++
		case 'H':
			i++
			atom.ExplicitH = 1
			if i < len(body) && isDigit(body[i]) {
				atom.ExplicitH = int(body[i] - '0')
				i++
			}
		case '+', '-':
			sign := 1
			if body[i] == '-' {
				sign = -1
			}
			ch := body[i]
			n := 0
			for i < len(body) && body[i] == ch {
				n++
				i++
			}
			if n == 1 && i < len(body) && isDigit(body[i]) {
				n = int(body[i] - '0')
				i++
			}
			atom.Charge = sign * n
		default:
			p.pos = start
			return p.fail(fmt.Sprintf("invalid bracket token %q", body[i]))
		}
	}

	p.addAtom(atom)
	return nil
}

func (p *parser) addAtom(a Atom) {
	p.mol.Atoms = append(p.mol.Atoms, a)
	idx := len(p.mol.Atoms) - 1
	if p.prev >= 0 {
		order := p.nextOrder
		if order == 0 {
			order = impliedOrder(p.mol.Atoms[p.prev], a)
		}
		p.addBond(p.prev, idx, order)
	}
	p.nextOrder = 0
	p.prev = idx
}

func (p *parser) addBond(a, b int, order float64) {
	p.mol.Bonds = append(p.mol.Bonds, Bond{A: a, B: b, Order: order})
	p.mol.Atoms[a].bondSum += order
	p.mol.Atoms[b].bondSum += order
	p.mol.Atoms[a].degree++
	p.mol.Atoms[b].degree++
}

func (p *parser) checkValence() error {
	for i := range p.mol.Atoms {
		a := &p.mol.Atoms[i]
		v, ok := defaultValence[a.Symbol]
		if !ok {
			// Uncommon element in brackets: accept whatever is written.
			continue
		}
		// S and P commonly expand their valence.
		limit := v + a.Charge
		switch a.Symbol {
		case "S":
			limit = 6 + a.Charge
		case "P":
			limit = 5 + a.Charge
		case "N":
			if a.Charge > 0 {
				limit = 4
			}
		}
		// Aromatic bonds count as single for valence accounting so that
		// pyrrole-type [nH] ring atoms pass.
		used := int(a.bondSum+0.5) + a.ExplicitH
		if a.Aromatic {
			used = a.degree + a.ExplicitH
		}
		if used > limit {
			return &InvalidLigandError{
				SMILES: p.input,
				Reason: fmt.Sprintf("valence %d exceeds %d on atom %d (%s)", used, limit, i+1, a.Symbol),
			}
		}
	}
	return nil
}

// ImplicitH reports the implied hydrogen count for atom i.
func (m *Mol) ImplicitH(i int) int {
	a := m.Atoms[i]
	if a.Bracket {
		return a.ExplicitH
	}
	v, ok := defaultValence[a.Symbol]
	if !ok {
		return 0
	}
	h := v + a.Charge - int(a.bondSum+0.5)
	if h < 0 {
		return 0
	}
	return h
}

func bondOrder(c byte) float64 {
	switch c {
	case '=':
		return 2
	case '#':
		return 3
	case ':':
		return 1.5
	default: // -, /, \, ~
		return 1
	}
}

func impliedOrder(a, b Atom) float64 {
	if a.Aromatic && b.Aromatic {
		return 1.5
	}
	return 1
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
