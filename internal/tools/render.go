package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/proteosurf/proteosurf/internal/models"
	"github.com/proteosurf/proteosurf/internal/render"
	"github.com/proteosurf/proteosurf/internal/session"
	"github.com/proteosurf/proteosurf/internal/store"
)

const rcsbDownloadURL = "https://files.rcsb.org/download"

// RenderTools holds references needed by renderer-backed tool handlers.
// All commands for one conversation run on one serialized session.
type RenderTools struct {
	Store   *store.Store
	Manager *render.Manager
	Session *session.Session
}

// --- Input types ---

type OpenStructureInput struct {
	PDBID string `json:"pdb_id" jsonschema:"4-character PDB identifier to open in the viewer"`
}

type RotateViewInput struct {
	Axis  string  `json:"axis,omitempty" jsonschema:"Rotation axis: x, y or z (default y)"`
	Angle float64 `json:"angle,omitempty" jsonschema:"Rotation angle in degrees (default 90)"`
}

type SurfaceViewInput struct {
	Representation string  `json:"representation,omitempty" jsonschema:"One of surface, cartoon, stick, sphere (default surface)"`
	Transparency   float64 `json:"transparency,omitempty" jsonschema:"Surface transparency from 0.0 (opaque) to 1.0 (invisible)"`
}

type HighlightResiduesInput struct {
	Chain    string `json:"chain,omitempty" jsonschema:"Chain identifier (default A)"`
	Residues []int  `json:"residues" jsonschema:"Residue sequence numbers to highlight"`
	Color    string `json:"color,omitempty" jsonschema:"Color name or hex (default red)"`
}

type MutateResidueInput struct {
	Chain      string `json:"chain" jsonschema:"Chain identifier (e.g. A)"`
	SeqNum     int    `json:"resseq" jsonschema:"Residue sequence number"`
	NewResidue string `json:"new_residue" jsonschema:"Three-letter code of the target amino acid (e.g. ALA)"`
}

type SnapshotInput struct {
	Width       int  `json:"width,omitempty" jsonschema:"Image width in pixels (default 1024)"`
	Height      int  `json:"height,omitempty" jsonschema:"Image height in pixels (default 768)"`
	Transparent bool `json:"transparent,omitempty" jsonschema:"Render with a transparent background"`
}

// --- Handlers ---

// renderError maps session failures to tool results. Capacity and start
// failures are retryable; the message says so.
func renderError(err error) *mcp.CallToolResult {
	switch err.(type) {
	case *render.CapacityError:
		return toolError("Viewer busy: %v", err)
	case *render.SessionStartError:
		return toolError("Viewer failed to start: %v", err)
	case *render.RenderError:
		return toolError("Viewer error: %v (the session was closed; the next call reopens it)", err)
	default:
		return toolError("%v", err)
	}
}

// withSnapshot runs a script on the conversation's session and returns
// payload JSON plus a fresh snapshot.
func (t *RenderTools) withSnapshot(script string, payload any) (*mcp.CallToolResult, any, error) {
	sess, err := t.Manager.Acquire(t.Session.ID())
	if err != nil {
		return renderError(err), nil, nil
	}
	if err := sess.Execute(script); err != nil {
		return renderError(err), nil, nil
	}
	png, err := sess.Snapshot(1024, 768, false)
	if err != nil {
		return renderError(err), nil, nil
	}
	return toolJSONImage(payload, png)
}

// ensureLoaded reopens the current structure in the renderer when the
// session was reaped or crashed since the last command. Representation
// state does not survive that, only the loaded structure is restored.
func (t *RenderTools) ensureLoaded(sess *render.Session) error {
	st := t.Session.Current()
	if st == nil {
		return fmt.Errorf("no structure loaded; call open_structure first")
	}
	if sess.Loaded() == st.Accession {
		return nil
	}
	if err := sess.Execute(openScript(st)); err != nil {
		return err
	}
	sess.SetLoaded(st.Accession)
	return nil
}

func openScript(st *models.Structure) string {
	var b strings.Builder
	b.WriteString("close all\n")
	fmt.Fprintf(&b, "open %s/%s.pdb\n", rcsbDownloadURL, st.Accession)
	b.WriteString("lighting soft\n")
	b.WriteString("set bgColor white")
	return b.String()
}

func (t *RenderTools) OpenStructure(ctx context.Context, _ *mcp.CallToolRequest, input OpenStructureInput) (*mcp.CallToolResult, any, error) {
	// Fetch first so a bad id fails before a renderer is spawned.
	st, err := t.Store.Get(ctx, models.SourceRCSB, input.PDBID)
	if err != nil {
		return fetchError(err), nil, nil
	}
	t.Session.SetCurrent(st)

	sess, err := t.Manager.Acquire(t.Session.ID())
	if err != nil {
		return renderError(err), nil, nil
	}
	if err := sess.Execute(openScript(st)); err != nil {
		return renderError(err), nil, nil
	}
	sess.SetLoaded(st.Accession)

	png, err := sess.Snapshot(1024, 768, false)
	if err != nil {
		return renderError(err), nil, nil
	}
	return toolJSONImage(map[string]any{
		"status":  "ok",
		"pdb_id":  st.Accession,
		"message": fmt.Sprintf("Opened %s in the viewer", st.Accession),
	}, png)
}

func (t *RenderTools) RotateView(_ context.Context, _ *mcp.CallToolRequest, input RotateViewInput) (*mcp.CallToolResult, any, error) {
	axis := strings.ToLower(input.Axis)
	if axis == "" {
		axis = "y"
	}
	if axis != "x" && axis != "y" && axis != "z" {
		return toolError("axis must be x, y or z, got %q", input.Axis), nil, nil
	}
	angle := input.Angle
	if angle == 0 {
		angle = 90
	}

	sess, err := t.Manager.Acquire(t.Session.ID())
	if err != nil {
		return renderError(err), nil, nil
	}
	if err := t.ensureLoaded(sess); err != nil {
		return renderError(err), nil, nil
	}
	if err := sess.Execute(fmt.Sprintf("turn %s %g", axis, angle)); err != nil {
		return renderError(err), nil, nil
	}
	png, err := sess.Snapshot(1024, 768, false)
	if err != nil {
		return renderError(err), nil, nil
	}
	return toolJSONImage(map[string]any{
		"status":   "ok",
		"rotation": map[string]any{"axis": axis, "angle": angle},
	}, png)
}

func (t *RenderTools) SurfaceView(_ context.Context, _ *mcp.CallToolRequest, input SurfaceViewInput) (*mcp.CallToolResult, any, error) {
	rep := input.Representation
	if rep == "" {
		rep = "surface"
	}
	switch rep {
	case "surface", "cartoon", "stick", "sphere":
	default:
		return toolError("representation must be surface, cartoon, stick or sphere, got %q", rep), nil, nil
	}
	transparency := input.Transparency
	if transparency < 0 {
		transparency = 0
	}
	if transparency > 1 {
		transparency = 1
	}

	var b strings.Builder
	switch rep {
	case "surface":
		b.WriteString("hide atoms\nsurface\n")
		fmt.Fprintf(&b, "transparency %d", int(transparency*100))
	case "cartoon":
		b.WriteString("hide atoms\ncartoon")
	default:
		fmt.Fprintf(&b, "style %s\nshow atoms", rep)
	}

	sess, err := t.Manager.Acquire(t.Session.ID())
	if err != nil {
		return renderError(err), nil, nil
	}
	if err := t.ensureLoaded(sess); err != nil {
		return renderError(err), nil, nil
	}
	if err := sess.Execute(b.String()); err != nil {
		return renderError(err), nil, nil
	}
	png, err := sess.Snapshot(1024, 768, false)
	if err != nil {
		return renderError(err), nil, nil
	}
	return toolJSONImage(map[string]any{
		"status":         "ok",
		"representation": rep,
		"transparency":   transparency,
	}, png)
}

func (t *RenderTools) HighlightResidues(_ context.Context, _ *mcp.CallToolRequest, input HighlightResiduesInput) (*mcp.CallToolResult, any, error) {
	if len(input.Residues) == 0 {
		return toolError("No residues specified"), nil, nil
	}
	chain := input.Chain
	if chain == "" {
		chain = "A"
	}
	color := input.Color
	if color == "" {
		color = "red"
	}

	nums := append([]int(nil), input.Residues...)
	sort.Ints(nums)
	specs := make([]string, len(nums))
	for i, n := range nums {
		specs[i] = fmt.Sprint(n)
	}
	sel := fmt.Sprintf("/%s:%s", chain, strings.Join(specs, ","))

	var b strings.Builder
	b.WriteString("color lightgray\nstyle stick\n")
	fmt.Fprintf(&b, "color %s %s\n", sel, color)
	fmt.Fprintf(&b, "style %s ball\n", sel)
	b.WriteString("surface\ntransparency 70\n")
	fmt.Fprintf(&b, "view %s", sel)

	sess, err := t.Manager.Acquire(t.Session.ID())
	if err != nil {
		return renderError(err), nil, nil
	}
	if err := t.ensureLoaded(sess); err != nil {
		return renderError(err), nil, nil
	}
	if err := sess.Execute(b.String()); err != nil {
		return renderError(err), nil, nil
	}
	png, err := sess.Snapshot(1024, 768, false)
	if err != nil {
		return renderError(err), nil, nil
	}
	return toolJSONImage(map[string]any{
		"status":   "ok",
		"chain":    chain,
		"residues": nums,
		"color":    color,
	}, png)
}

func (t *RenderTools) MutateResidue(_ context.Context, _ *mcp.CallToolRequest, input MutateResidueInput) (*mcp.CallToolResult, any, error) {
	st := t.Session.Current()
	if st == nil {
		return toolError("No structure loaded; call open_structure first"), nil, nil
	}
	newRes := strings.ToUpper(strings.TrimSpace(input.NewResidue))

	// Apply the substitution to our own model first; the viewer command
	// only mirrors what we now consider current.
	mutated, err := st.Substitute(input.Chain, input.SeqNum, newRes)
	if err != nil {
		return toolError("Mutation failed: %v", err), nil, nil
	}
	mutated.Accession = fmt.Sprintf("%s-%s%d%s", st.Accession, input.Chain, input.SeqNum, newRes)
	t.Store.Put(mutated)
	t.Session.SetCurrent(mutated)

	spec := fmt.Sprintf("/%s:%d", input.Chain, input.SeqNum)
	script := fmt.Sprintf("swapaa %s %s\ncolor %s magenta\nlabel %s", spec, newRes, spec, spec)

	sess, err := t.Manager.Acquire(t.Session.ID())
	if err != nil {
		return renderError(err), nil, nil
	}
	if sess.Loaded() == "" {
		// Reaped since open; reload the pre-mutation deposition first.
		if err := sess.Execute(openScript(st)); err != nil {
			return renderError(err), nil, nil
		}
		sess.SetLoaded(st.Accession)
	}
	if err := sess.Execute(script); err != nil {
		return renderError(err), nil, nil
	}
	png, err := sess.Snapshot(1024, 768, false)
	if err != nil {
		return renderError(err), nil, nil
	}
	return toolJSONImage(map[string]any{
		"status":   "ok",
		"mutation": fmt.Sprintf("%s:%d -> %s", input.Chain, input.SeqNum, newRes),
		"model":    mutated.Accession,
	}, png)
}

func (t *RenderTools) Snapshot(_ context.Context, _ *mcp.CallToolRequest, input SnapshotInput) (*mcp.CallToolResult, any, error) {
	width, height := input.Width, input.Height
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 768
	}

	sess, err := t.Manager.Acquire(t.Session.ID())
	if err != nil {
		return renderError(err), nil, nil
	}
	if err := t.ensureLoaded(sess); err != nil {
		return renderError(err), nil, nil
	}
	png, err := sess.Snapshot(width, height, input.Transparent)
	if err != nil {
		return renderError(err), nil, nil
	}
	return toolJSONImage(map[string]any{
		"status": "ok",
		"width":  width,
		"height": height,
	}, png)
}
