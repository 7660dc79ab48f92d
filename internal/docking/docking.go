// Package docking orchestrates receptor/ligand preparation and an
// external AutoDock-Vina-compatible engine run.
//
// Ligand notation is validated before any subprocess is spawned. Every
// job works in its own scratch directory that is removed on every exit
// path, and engine processes are context-bounded: a timeout kills the
// subprocess before the error is reported. A weighted semaphore caps
// concurrent engine runs; excess jobs wait in FIFO order.
package docking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/proteosurf/proteosurf/internal/metrics"
	"github.com/proteosurf/proteosurf/internal/models"
	"github.com/proteosurf/proteosurf/internal/pdb"
	"github.com/proteosurf/proteosurf/internal/smiles"
)

// DockingEngineError reports an engine run that exited non-zero or
// produced no poses. Stderr is kept for diagnostics.
type DockingEngineError struct {
	ExitCode int
	Stderr   string
}

func (e *DockingEngineError) Error() string {
	msg := fmt.Sprintf("docking engine failed (exit %d)", e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// DockingTimeoutError reports an engine run that exceeded its time bound.
// The subprocess is guaranteed dead before this error is returned.
type DockingTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *DockingTimeoutError) Error() string {
	return fmt.Sprintf("docking %s timed out after %s", e.Stage, e.Timeout)
}

// Status is the lifecycle phase of a docking job.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Job tracks one docking request through the pipeline.
type Job struct {
	ID       string
	Receptor string
	Ligand   string
	Status   Status
	Error    string
	Started  time.Time
	Finished time.Time
}

// Config holds the external tool paths and pipeline limits.
type Config struct {
	VinaBinary   string
	ObabelBinary string
	ScratchDir   string
	MaxJobs      int64
	PrepTimeout  time.Duration
	RunTimeout   time.Duration
	Logger       *slog.Logger
}

// Options are the per-request docking parameters.
type Options struct {
	Center         [3]float64
	BoxSize        [3]float64
	NumPoses       int
	Exhaustiveness int
}

// Pipeline runs docking jobs with a bounded engine-process count.
type Pipeline struct {
	cfg Config
	sem *semaphore.Weighted

	mu   sync.Mutex
	jobs map[string]*Job
}

// New builds a pipeline. MaxJobs <= 0 means one job at a time.
func New(cfg Config) *Pipeline {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		cfg:  cfg,
		sem:  semaphore.NewWeighted(cfg.MaxJobs),
		jobs: make(map[string]*Job),
	}
}

// Jobs returns a snapshot of all jobs seen by this pipeline.
func (p *Pipeline) Jobs() []Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Job, 0, len(p.jobs))
	for _, j := range p.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Started.Before(out[k].Started) })
	return out
}

// Dock converts the ligand notation to a 3D pose set against the
// receptor. Validation failures surface before any subprocess runs.
func (p *Pipeline) Dock(ctx context.Context, receptor *models.Structure, ligand string, opts Options) (*models.DockingResult, error) {
	if err := smiles.Validate(ligand); err != nil {
		metrics.DockingRuns.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if opts.NumPoses <= 0 {
		opts.NumPoses = 5
	}
	if opts.NumPoses > 20 {
		opts.NumPoses = 20
	}
	if opts.Exhaustiveness <= 0 {
		opts.Exhaustiveness = 8
	}
	for i, v := range opts.BoxSize {
		if v <= 0 {
			opts.BoxSize[i] = 25.0
		}
	}

	job := &Job{
		ID:       uuid.New().String(),
		Receptor: receptor.Accession,
		Ligand:   ligand,
		Status:   StatusPending,
		Started:  time.Now(),
	}
	p.track(job)

	// FIFO engine slot; waiting here is the queue.
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.finish(job, err)
		return nil, err
	}
	defer p.sem.Release(1)
	p.setStatus(job, StatusRunning)

	result, err := p.runJob(ctx, receptor, ligand, opts)
	p.finish(job, err)
	return result, err
}

func (p *Pipeline) runJob(ctx context.Context, receptor *models.Structure, ligand string, opts Options) (*models.DockingResult, error) {
	start := time.Now()

	workdir, err := os.MkdirTemp(p.cfg.ScratchDir, "dock-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(workdir)

	receptorPDBQT, err := p.prepareReceptor(ctx, receptor, workdir)
	if err != nil {
		return nil, err
	}
	ligandPDBQT, err := p.prepareLigand(ctx, ligand, workdir)
	if err != nil {
		return nil, err
	}

	outPDBQT := filepath.Join(workdir, "output.pdbqt")
	args := []string{
		"--receptor", receptorPDBQT,
		"--ligand", ligandPDBQT,
		"--out", outPDBQT,
		"--center_x", formatFloat(opts.Center[0]),
		"--center_y", formatFloat(opts.Center[1]),
		"--center_z", formatFloat(opts.Center[2]),
		"--size_x", formatFloat(opts.BoxSize[0]),
		"--size_y", formatFloat(opts.BoxSize[1]),
		"--size_z", formatFloat(opts.BoxSize[2]),
		"--exhaustiveness", fmt.Sprint(opts.Exhaustiveness),
		"--num_modes", fmt.Sprint(opts.NumPoses),
	}

	stdout, stderr, err := run(ctx, p.cfg.RunTimeout, p.cfg.VinaBinary, args...)
	if err != nil {
		var timeoutErr *DockingTimeoutError
		if errors.As(err, &timeoutErr) {
			metrics.DockingRuns.WithLabelValues("timeout").Inc()
			timeoutErr.Stage = "engine"
			return nil, timeoutErr
		}
		metrics.DockingRuns.WithLabelValues("engine_error").Inc()
		return nil, engineError(err, stderr)
	}

	poses := parsePoseTable(stdout)
	if len(poses) == 0 {
		metrics.DockingRuns.WithLabelValues("engine_error").Inc()
		return nil, &DockingEngineError{Stderr: "engine produced no poses\n" + stderr}
	}
	attachCoordinates(poses, outPDBQT)

	// The engine reports poses best-first already. A stable sort by
	// affinity reconciles the rare out-of-order report without
	// disturbing the engine's ordering of equal-affinity poses.
	sort.SliceStable(poses, func(i, j int) bool { return poses[i].Affinity < poses[j].Affinity })
	for i := range poses {
		poses[i].Rank = i + 1
	}

	metrics.DockingRuns.WithLabelValues("ok").Inc()
	metrics.DockingDuration.Observe(time.Since(start).Seconds())
	p.cfg.Logger.Info("docking complete",
		"receptor", receptor.Accession, "ligand", ligand,
		"poses", len(poses), "best_affinity", poses[0].Affinity)

	return &models.DockingResult{
		Receptor:  receptor.Accession,
		Ligand:    ligand,
		BoxCenter: opts.Center,
		BoxSize:   opts.BoxSize,
		Poses:     poses,
	}, nil
}

// prepareReceptor strips waters and hetero residues, writes the protein
// to PDB and converts it to PDBQT with Gasteiger charges.
func (p *Pipeline) prepareReceptor(ctx context.Context, receptor *models.Structure, workdir string) (string, error) {
	stripped := stripToProtein(receptor)
	if stripped.AtomCount() == 0 {
		return "", fmt.Errorf("receptor %s has no protein atoms", receptor.Accession)
	}

	pdbPath := filepath.Join(workdir, "receptor.pdb")
	f, err := os.Create(pdbPath)
	if err != nil {
		return "", fmt.Errorf("write receptor: %w", err)
	}
	if err := pdb.Write(f, stripped); err != nil {
		f.Close()
		return "", fmt.Errorf("write receptor: %w", err)
	}
	f.Close()

	out := filepath.Join(workdir, "receptor.pdbqt")
	_, stderr, err := run(ctx, p.cfg.PrepTimeout, p.cfg.ObabelBinary,
		pdbPath, "-O", out, "-xr", "--partialcharge", "gasteiger")
	if err != nil {
		return "", prepError("receptor", err, stderr)
	}
	return out, nil
}

// prepareLigand generates a 3D conformer from the notation and writes it
// as PDBQT.
func (p *Pipeline) prepareLigand(ctx context.Context, ligand, workdir string) (string, error) {
	out := filepath.Join(workdir, "ligand.pdbqt")
	_, stderr, err := run(ctx, p.cfg.PrepTimeout, p.cfg.ObabelBinary,
		"-:"+ligand, "-O", out, "--gen3d", "--partialcharge", "gasteiger")
	if err != nil {
		return "", prepError("ligand", err, stderr)
	}
	if _, statErr := os.Stat(out); statErr != nil {
		return "", &DockingEngineError{Stderr: "conformer generation produced no output\n" + stderr}
	}
	return out, nil
}

// stripToProtein drops water and hetero residues, returning a new
// structure; the input is untouched.
func stripToProtein(s *models.Structure) *models.Structure {
	out := &models.Structure{
		Accession: s.Accession,
		Source:    s.Source,
		Method:    s.Method,
	}
	for _, c := range s.Chains {
		var chain models.Chain
		chain.ID = c.ID
		for _, r := range c.Residues {
			if r.Kind() == "standard" {
				chain.Residues = append(chain.Residues, r)
			}
		}
		if len(chain.Residues) > 0 {
			out.Chains = append(out.Chains, chain)
		}
	}
	return out
}

// run executes one external tool with a hard deadline. On timeout the
// process is killed by the context and a DockingTimeoutError is returned
// after the process has been reaped.
func run(ctx context.Context, timeout time.Duration, name string, args ...string) (stdout, stderr string, err error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	cmd.WaitDelay = 5 * time.Second

	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return stdout, stderr, &DockingTimeoutError{Stage: "subprocess", Timeout: timeout}
		}
		return stdout, stderr, runErr
	}
	return stdout, stderr, nil
}

func engineError(err error, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &DockingEngineError{ExitCode: exitErr.ExitCode(), Stderr: stderr}
	}
	return &DockingEngineError{ExitCode: -1, Stderr: err.Error() + "\n" + stderr}
}

func prepError(stage string, err error, stderr string) error {
	var timeoutErr *DockingTimeoutError
	if errors.As(err, &timeoutErr) {
		timeoutErr.Stage = stage + " preparation"
		return timeoutErr
	}
	return fmt.Errorf("%s preparation: %w", stage, engineError(err, stderr))
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

func (p *Pipeline) track(j *Job) {
	p.mu.Lock()
	p.jobs[j.ID] = j
	p.mu.Unlock()
}

func (p *Pipeline) setStatus(j *Job, s Status) {
	p.mu.Lock()
	j.Status = s
	p.mu.Unlock()
}

func (p *Pipeline) finish(j *Job, err error) {
	p.mu.Lock()
	j.Finished = time.Now()
	if err != nil {
		j.Status = StatusFailed
		j.Error = err.Error()
	} else {
		j.Status = StatusComplete
	}
	p.mu.Unlock()
}
