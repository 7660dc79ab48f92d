// Package pdb parses PDB-format structure records into the model types.
// Only the first model of multi-model entries is read.
package pdb

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/proteosurf/proteosurf/internal/models"
)

// ParseError reports a malformed structure record.
type ParseError struct {
	Accession string
	Line      int
	Reason    string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s: line %d: %s", e.Accession, e.Line, e.Reason)
	}
	return fmt.Sprintf("parse %s: %s", e.Accession, e.Reason)
}

// Parse reads PDB-format text and builds a Structure. Chains, residues and
// atoms keep deposition order. ATOM and HETATM records are both kept;
// hetero atoms are flagged so downstream selection can strip them.
func Parse(accession string, source models.Source, r io.Reader) (*models.Structure, error) {
	s := &models.Structure{Accession: accession, Source: source}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<20)

	var (
		lineNum  int
		sawAtom  bool
		plddtSum float64
		plddtN   int
	)
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if len(line) < 6 {
			continue
		}
		switch strings.TrimSpace(line[0:6]) {
		case "HEADER":
			if len(line) >= 50 {
				s.Title = strings.TrimSpace(line[10:50])
			}
		case "TITLE":
			if s.Title == "" && len(line) > 10 {
				s.Title = strings.TrimSpace(line[10:])
			}
		case "EXPDTA":
			if len(line) > 10 {
				s.Method = strings.TrimSpace(line[10:])
			}
		case "REMARK":
			// REMARK   2 RESOLUTION.    1.80 ANGSTROMS.
			if strings.Contains(line, "RESOLUTION.") {
				fields := strings.Fields(line)
				for i, f := range fields {
					if f == "RESOLUTION." && i+1 < len(fields) {
						if v, err := strconv.ParseFloat(fields[i+1], 64); err == nil {
							s.Resolution = v
						}
					}
				}
			}
		case "ATOM", "HETATM":
			atom, chainID, res, seq, icode, perr := parseAtom(line)
			if perr != "" {
				return nil, &ParseError{Accession: accession, Line: lineNum, Reason: perr}
			}
			sawAtom = true
			appendAtom(s, chainID, res, seq, icode, atom)
			if source == models.SourceAlphaFold && !atom.Het {
				// AlphaFold stores per-residue pLDDT in the B-factor column.
				plddtSum += atom.BFactor
				plddtN++
			}
		case "ENDMDL":
			// First model only.
			goto done
		}
	}
done:
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Accession: accession, Reason: err.Error()}
	}
	if !sawAtom {
		return nil, &ParseError{Accession: accession, Reason: "no ATOM records"}
	}
	if plddtN > 0 {
		s.Confidence = plddtSum / float64(plddtN)
	}
	return s, nil
}

// parseAtom pulls the fixed PDB columns out of one ATOM/HETATM line:
// atom name 13-16, residue name 18-20, chain id 22, residue seq 23-26,
// insertion code 27, coordinates 31-54, occupancy 55-60, B-factor 61-66,
// element 77-78 (1-based, inclusive).
func parseAtom(line string) (atom models.Atom, chainID, resName string, seqNum int, icode string, errReason string) {
	if len(line) < 54 {
		return atom, "", "", 0, "", "ATOM record shorter than coordinate columns"
	}
	// Pad so the optional trailing columns are always addressable.
	if len(line) < 80 {
		line = line + strings.Repeat(" ", 80-len(line))
	}

	atom.Het = strings.HasPrefix(line, "HETATM")
	atom.Name = strings.TrimSpace(line[12:16])
	resName = strings.TrimSpace(line[17:20])
	chainID = strings.TrimSpace(line[21:22])
	icode = strings.TrimSpace(line[26:27])

	seq, err := strconv.Atoi(strings.TrimSpace(line[22:26]))
	if err != nil {
		return atom, "", "", 0, "", "invalid residue sequence number"
	}
	seqNum = seq

	coords := [3]*float64{&atom.X, &atom.Y, &atom.Z}
	for i, span := range [][2]int{{30, 38}, {38, 46}, {46, 54}} {
		v, err := strconv.ParseFloat(strings.TrimSpace(line[span[0]:span[1]]), 64)
		if err != nil {
			return atom, "", "", 0, "", "invalid coordinate"
		}
		*coords[i] = v
	}

	if v, err := strconv.ParseFloat(strings.TrimSpace(line[54:60]), 64); err == nil {
		atom.Occupancy = v
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(line[60:66]), 64); err == nil {
		atom.BFactor = v
	}

	atom.Element = strings.TrimSpace(line[76:78])
	if atom.Element == "" {
		atom.Element = elementFromName(atom.Name)
	}
	return atom, chainID, resName, seqNum, icode, ""
}

// elementFromName falls back to deriving the element from the atom name
// when columns 77-78 are blank (common in minimized or generated files).
func elementFromName(name string) string {
	name = strings.TrimLeft(name, "0123456789")
	if name == "" {
		return ""
	}
	// Two-letter elements that appear in protein/ligand PDB files.
	two := map[string]bool{"CL": true, "BR": true, "FE": true, "ZN": true, "MG": true, "MN": true, "NA": true, "SE": true}
	if len(name) >= 2 && two[strings.ToUpper(name[:2])] {
		return strings.ToUpper(name[:2])
	}
	return strings.ToUpper(name[:1])
}

func appendAtom(s *models.Structure, chainID, resName string, seqNum int, icode string, atom models.Atom) {
	if chainID == "" {
		chainID = "A"
	}
	var chain *models.Chain
	for i := range s.Chains {
		if s.Chains[i].ID == chainID {
			chain = &s.Chains[i]
			break
		}
	}
	if chain == nil {
		s.Chains = append(s.Chains, models.Chain{ID: chainID})
		chain = &s.Chains[len(s.Chains)-1]
	}

	n := len(chain.Residues)
	if n > 0 {
		last := &chain.Residues[n-1]
		if last.SeqNum == seqNum && last.ICode == icode && last.Name == resName {
			last.Atoms = append(last.Atoms, atom)
			return
		}
	}
	chain.Residues = append(chain.Residues, models.Residue{
		Name:   resName,
		SeqNum: seqNum,
		ICode:  icode,
		Atoms:  []models.Atom{atom},
	})
}

// Write serializes a structure back to minimal PDB text (ATOM/HETATM and
// TER records only), used when handing a receptor to external tools.
func Write(w io.Writer, s *models.Structure) error {
	bw := bufio.NewWriter(w)
	serial := 0
	for _, c := range s.Chains {
		for _, r := range c.Residues {
			record := "ATOM  "
			if r.Kind() != "standard" {
				record = "HETATM"
			}
			for _, a := range r.Atoms {
				serial++
				name := a.Name
				if len(name) < 4 {
					name = " " + name
				}
				fmt.Fprintf(bw, "%s%5d %-4s %3s %1s%4d%1s   %8.3f%8.3f%8.3f%6.2f%6.2f          %2s\n",
					record, serial, name, r.Name, c.ID, r.SeqNum, pad1(r.ICode),
					a.X, a.Y, a.Z, a.Occupancy, a.BFactor, a.Element)
			}
		}
		fmt.Fprintf(bw, "TER\n")
	}
	fmt.Fprintf(bw, "END\n")
	return bw.Flush()
}

func pad1(s string) string {
	if s == "" {
		return " "
	}
	return s
}
