package tools

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/proteosurf/proteosurf/internal/models"
	"github.com/proteosurf/proteosurf/internal/pdb"
	"github.com/proteosurf/proteosurf/internal/pocket"
	"github.com/proteosurf/proteosurf/internal/session"
	"github.com/proteosurf/proteosurf/internal/store"
)

// StructureTools holds references needed by structure and pocket tool
// handlers.
type StructureTools struct {
	Store   *store.Store
	Session *session.Session
}

// --- Input types ---

type FetchStructureInput struct {
	PDBID string `json:"pdb_id" jsonschema:"4-character PDB identifier (e.g. 1CRN, 4HHB)"`
}

type FetchAlphaFoldInput struct {
	UniProtID string `json:"uniprot_id" jsonschema:"UniProt accession (e.g. P00520, Q9Y6K9)"`
}

type ListResiduesInput struct {
	PDBID string `json:"pdb_id" jsonschema:"4-character PDB identifier"`
	Chain string `json:"chain" jsonschema:"Single-letter chain identifier (e.g. A)"`
}

type FindPocketsInput struct {
	PDBID       string   `json:"pdb_id" jsonschema:"4-character PDB identifier"`
	Chains      []string `json:"chains,omitempty" jsonschema:"Chain identifiers to analyze; empty means all chains"`
	Sensitivity string   `json:"sensitivity,omitempty" jsonschema:"Detection sensitivity: low, normal, or high (default normal)"`
}

// --- Output types ---

type chainSummary struct {
	ID       string `json:"id"`
	Residues int    `json:"residues"`
	Atoms    int    `json:"atoms"`
}

type structureSummary struct {
	Accession  string         `json:"accession"`
	Source     models.Source  `json:"source"`
	Title      string         `json:"title,omitempty"`
	Method     string         `json:"method,omitempty"`
	Resolution float64        `json:"resolution_a,omitempty"`
	Confidence float64        `json:"mean_plddt,omitempty"`
	AtomCount  int            `json:"atom_count"`
	Chains     []chainSummary `json:"chains"`
}

func summarize(st *models.Structure) structureSummary {
	s := structureSummary{
		Accession:  st.Accession,
		Source:     st.Source,
		Title:      st.Title,
		Method:     st.Method,
		Resolution: st.Resolution,
		Confidence: st.Confidence,
		AtomCount:  st.AtomCount(),
	}
	for _, c := range st.Chains {
		atoms := 0
		for _, r := range c.Residues {
			atoms += len(r.Atoms)
		}
		s.Chains = append(s.Chains, chainSummary{ID: c.ID, Residues: len(c.Residues), Atoms: atoms})
	}
	return s
}

// fetchError renders store/parse failures with user-correctable phrasing.
func fetchError(err error) *mcp.CallToolResult {
	var notFound *store.NotFoundError
	if errors.As(err, &notFound) {
		return toolError("Not found: %v", notFound)
	}
	var parseErr *pdb.ParseError
	if errors.As(err, &parseErr) {
		return toolError("Structure record is malformed: %v", parseErr)
	}
	return toolError("Failed to fetch structure: %v", err)
}

// --- Handlers ---

func (t *StructureTools) FetchStructure(ctx context.Context, _ *mcp.CallToolRequest, input FetchStructureInput) (*mcp.CallToolResult, any, error) {
	st, err := t.Store.Get(ctx, models.SourceRCSB, input.PDBID)
	if err != nil {
		return fetchError(err), nil, nil
	}
	t.Session.SetCurrent(st)
	return toolJSON(summarize(st))
}

func (t *StructureTools) FetchAlphaFold(ctx context.Context, _ *mcp.CallToolRequest, input FetchAlphaFoldInput) (*mcp.CallToolResult, any, error) {
	st, err := t.Store.Get(ctx, models.SourceAlphaFold, input.UniProtID)
	if err != nil {
		return fetchError(err), nil, nil
	}
	t.Session.SetCurrent(st)
	return toolJSON(summarize(st))
}

func (t *StructureTools) ListResidues(ctx context.Context, _ *mcp.CallToolRequest, input ListResiduesInput) (*mcp.CallToolResult, any, error) {
	st, err := t.Store.Get(ctx, models.SourceRCSB, input.PDBID)
	if err != nil {
		return fetchError(err), nil, nil
	}

	chain := st.Chain(input.Chain)
	if chain == nil {
		return toolError("Chain %q not found. Available: %v", input.Chain, st.ChainIDs()), nil, nil
	}

	type residueInfo struct {
		SeqNum   int    `json:"resseq"`
		Name     string `json:"resname"`
		NumAtoms int    `json:"num_atoms"`
		ICode    string `json:"insertion_code,omitempty"`
		Kind     string `json:"type"`
	}
	out := struct {
		PDBID    string        `json:"pdb_id"`
		Chain    string        `json:"chain"`
		Total    int           `json:"total_residues"`
		Standard int           `json:"standard_residues"`
		Hetero   int           `json:"hetero_residues"`
		Waters   int           `json:"water_molecules"`
		Residues []residueInfo `json:"residues"`
	}{PDBID: st.Accession, Chain: chain.ID}

	for i := range chain.Residues {
		r := &chain.Residues[i]
		kind := r.Kind()
		switch kind {
		case "standard":
			out.Standard++
		case "hetero":
			out.Hetero++
		case "water":
			out.Waters++
		}
		out.Residues = append(out.Residues, residueInfo{
			SeqNum:   r.SeqNum,
			Name:     r.Name,
			NumAtoms: len(r.Atoms),
			ICode:    r.ICode,
			Kind:     kind,
		})
	}
	out.Total = len(out.Residues)
	return toolJSON(out)
}

func (t *StructureTools) FindPockets(ctx context.Context, _ *mcp.CallToolRequest, input FindPocketsInput) (*mcp.CallToolResult, any, error) {
	sens := pocket.Sensitivity(input.Sensitivity)
	switch sens {
	case "":
		sens = pocket.SensitivityNormal
	case pocket.SensitivityLow, pocket.SensitivityNormal, pocket.SensitivityHigh:
	default:
		return toolError("sensitivity must be low, normal or high, got %q", input.Sensitivity), nil, nil
	}

	st, err := t.Store.Get(ctx, models.SourceRCSB, input.PDBID)
	if err != nil {
		return fetchError(err), nil, nil
	}
	t.Session.SetCurrent(st)

	pockets := pocket.Detect(st, input.Chains, sens)
	return toolJSON(struct {
		PDBID       string          `json:"pdb_id"`
		Sensitivity string          `json:"sensitivity"`
		Found       int             `json:"pockets_found"`
		Pockets     []models.Pocket `json:"pockets"`
	}{
		PDBID:       st.Accession,
		Sensitivity: string(sens),
		Found:       len(pockets),
		Pockets:     pockets,
	})
}
