package tools

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/proteosurf/proteosurf/internal/docking"
	"github.com/proteosurf/proteosurf/internal/ligand"
	"github.com/proteosurf/proteosurf/internal/models"
	"github.com/proteosurf/proteosurf/internal/session"
	"github.com/proteosurf/proteosurf/internal/smiles"
	"github.com/proteosurf/proteosurf/internal/store"
)

// DockingTools holds references needed by docking tool handlers.
type DockingTools struct {
	Store    *store.Store
	Pipeline *docking.Pipeline
	Session  *session.Session
}

// --- Input types ---

type DockLigandInput struct {
	PDBID          string  `json:"pdb_id" jsonschema:"4-character PDB identifier of the receptor"`
	SMILES         string  `json:"smiles" jsonschema:"SMILES notation of the ligand to dock"`
	CenterX        float64 `json:"center_x,omitempty" jsonschema:"X-coordinate of the search box center in Angstrom"`
	CenterY        float64 `json:"center_y,omitempty" jsonschema:"Y-coordinate of the search box center"`
	CenterZ        float64 `json:"center_z,omitempty" jsonschema:"Z-coordinate of the search box center"`
	BoxSize        float64 `json:"box_size,omitempty" jsonschema:"Side length of the cubic search box in Angstrom (default 25)"`
	NumPoses       int     `json:"num_poses,omitempty" jsonschema:"Number of poses to report (default 5, max 20)"`
	Exhaustiveness int     `json:"exhaustiveness,omitempty" jsonschema:"Search thoroughness; higher is slower but better (default 8)"`
}

type GenerateCandidatesInput struct {
	Residues []string `json:"pocket_residues" jsonschema:"Pocket residue identifiers from find_pockets (e.g. A:ASP25)"`
	Count    int      `json:"count,omitempty" jsonschema:"Number of candidates to generate (default 10, max 50)"`
}

// --- Handlers ---

func (t *DockingTools) DockLigand(ctx context.Context, _ *mcp.CallToolRequest, input DockLigandInput) (*mcp.CallToolResult, any, error) {
	// Reject malformed ligands before fetching anything or spawning
	// a subprocess.
	if err := smiles.Validate(input.SMILES); err != nil {
		return toolError("%v", err), nil, nil
	}

	receptor, err := t.Store.Get(ctx, models.SourceRCSB, input.PDBID)
	if err != nil {
		return fetchError(err), nil, nil
	}

	opts := docking.Options{
		Center:         [3]float64{input.CenterX, input.CenterY, input.CenterZ},
		BoxSize:        [3]float64{input.BoxSize, input.BoxSize, input.BoxSize},
		NumPoses:       input.NumPoses,
		Exhaustiveness: input.Exhaustiveness,
	}

	result, err := t.Pipeline.Dock(ctx, receptor, input.SMILES, opts)
	if err != nil {
		var timeoutErr *docking.DockingTimeoutError
		if errors.As(err, &timeoutErr) {
			return toolError("Docking timed out: %v. Retry with a smaller box or lower exhaustiveness.", err), nil, nil
		}
		var engineErr *docking.DockingEngineError
		if errors.As(err, &engineErr) {
			return toolError("Docking engine failed: %v", err), nil, nil
		}
		return toolError("Docking failed: %v", err), nil, nil
	}
	return toolJSON(result)
}

func (t *DockingTools) GenerateCandidates(_ context.Context, _ *mcp.CallToolRequest, input GenerateCandidatesInput) (*mcp.CallToolResult, any, error) {
	result, err := ligand.Generate(input.Residues, input.Count)
	if err != nil {
		var empty *ligand.EmptyPocketError
		if errors.As(err, &empty) {
			return toolError("Cannot generate candidates: %v. Run find_pockets first.", err), nil, nil
		}
		return toolError("Candidate generation failed: %v", err), nil, nil
	}
	return toolJSON(result)
}
