package server

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/proteosurf/proteosurf/internal/docking"
	"github.com/proteosurf/proteosurf/internal/render"
	"github.com/proteosurf/proteosurf/internal/session"
	"github.com/proteosurf/proteosurf/internal/store"
	"github.com/proteosurf/proteosurf/internal/tools"
)

// Deps are the long-lived components the tool handlers share.
type Deps struct {
	Store   *store.Store
	Render  *render.Manager
	Docking *docking.Pipeline
}

// New creates a fully configured MCP server with all tools registered.
func New(deps Deps) *mcp.Server {
	sess := session.New()

	st := &tools.StructureTools{Store: deps.Store, Session: sess}
	rt := &tools.RenderTools{Store: deps.Store, Manager: deps.Render, Session: sess}
	dt := &tools.DockingTools{Store: deps.Store, Pipeline: deps.Docking, Session: sess}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "proteosurf",
		Version: "0.2.0",
	}, nil)

	// Structure and pocket tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "fetch_structure",
		Description: "Fetch a structure from RCSB by 4-character PDB id; returns a chain/atom summary",
	}, st.FetchStructure)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "fetch_alphafold",
		Description: "Fetch a predicted structure from AlphaFold DB by UniProt accession",
	}, st.FetchAlphaFold)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_residues",
		Description: "List all residues of one chain with standard/hetero/water classification",
	}, st.ListResidues)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "find_pockets",
		Description: "Detect candidate ligand-binding pockets by grid-based burial analysis",
	}, st.FindPockets)

	// Viewer tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "open_structure",
		Description: "Open a PDB structure in the 3D viewer and return a snapshot",
	}, rt.OpenStructure)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "rotate_view",
		Description: "Rotate the current viewer scene around an axis",
	}, rt.RotateView)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "surface_view",
		Description: "Switch the viewer to surface, cartoon, stick or sphere representation",
	}, rt.SurfaceView)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "highlight_residues",
		Description: "Color and zoom to specific residues in the viewer",
	}, rt.HighlightResidues)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "mutate_residue",
		Description: "Apply a point substitution to the current structure and show it in the viewer",
	}, rt.MutateResidue)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "snapshot",
		Description: "Capture the current viewer scene as a PNG image",
	}, rt.Snapshot)

	// Docking tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "dock_ligand",
		Description: "Dock a small-molecule SMILES into a receptor and return ranked poses with affinities",
	}, dt.DockLigand)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "generate_candidates",
		Description: "Generate plausible ligand SMILES for a pocket from its residue composition",
	}, dt.GenerateCandidates)

	return srv
}
