// Package workspace lays out per-job working directories:
//
//	<base>/<job_id>/Dockerfile
//	<base>/<job_id>/data/        bind-mounted at /data in the job container
//	<base>/<job_id>/data/perf.json
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DataDirName is the job subdirectory mounted into the container
const DataDirName = "data"

// ErrInvalidJobID guards every path built from a job id
var ErrInvalidJobID = errors.New("job id must be a UUID")

// Config describes the directory layout
type Config struct {
	// BaseDir is where this process reads and writes job directories
	BaseDir string
	// HostBaseDir is the same directory as seen by the Docker daemon
	HostBaseDir  string
	RecipeFile   string
	ArtifactFile string
}

// Workspace is safe for concurrent use; each job only touches its own directory
type Workspace struct {
	baseDir      string
	hostBaseDir  string
	recipeFile   string
	artifactFile string
}

// New resolves the directories; a relative BaseDir doubles as the host path
func New(cfg Config) (*Workspace, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("workspace base dir is required")
	}

	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace base dir: %w", err)
	}

	host := cfg.HostBaseDir
	if host == "" {
		host = base
	}
	if !filepath.IsAbs(host) {
		return nil, fmt.Errorf("workspace host base dir must be absolute: %q", host)
	}

	ws := &Workspace{
		baseDir:      base,
		hostBaseDir:  filepath.Clean(host),
		recipeFile:   cfg.RecipeFile,
		artifactFile: cfg.ArtifactFile,
	}
	if ws.recipeFile == "" {
		ws.recipeFile = "Dockerfile"
	}
	if ws.artifactFile == "" {
		ws.artifactFile = "perf.json"
	}
	return ws, nil
}

func checkID(jobID string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return nil
}

// RecipeFile is the recipe name inside a job directory
func (w *Workspace) RecipeFile() string {
	return w.recipeFile
}

// ArtifactFile is the result file name inside the data directory
func (w *Workspace) ArtifactFile() string {
	return w.artifactFile
}

// JobDir is the build context of a job
func (w *Workspace) JobDir(jobID string) (string, error) {
	if err := checkID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(w.baseDir, jobID), nil
}

// HostDataDir is the bind mount source as the Docker daemon sees it
func (w *Workspace) HostDataDir(jobID string) (string, error) {
	if err := checkID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(w.hostBaseDir, jobID, DataDirName), nil
}

// Create makes the job directory, writes the recipe and prepares data/
func (w *Workspace) Create(jobID, recipe string) error {
	dir, err := w.JobDir(jobID)
	if err != nil {
		return err
	}

	dataDir := filepath.Join(dir, DataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}
	// the container runs as an unprivileged user that must be able to write here;
	// chmod explicitly since MkdirAll is subject to the umask
	if err := os.Chmod(dataDir, 0o777); err != nil {
		return fmt.Errorf("failed to open data directory permissions: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, w.recipeFile), []byte(recipe), 0o644); err != nil {
		return fmt.Errorf("failed to write recipe: %w", err)
	}
	return nil
}

// ReadRecipe returns the recipe exactly as submitted
func (w *Workspace) ReadRecipe(jobID string) ([]byte, error) {
	dir, err := w.JobDir(jobID)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(dir, w.recipeFile))
}

// ReadArtifact returns the result file written by the job container
func (w *Workspace) ReadArtifact(jobID string) ([]byte, error) {
	dir, err := w.JobDir(jobID)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(dir, DataDirName, w.artifactFile))
}

// Remove deletes the whole job directory
func (w *Workspace) Remove(jobID string) error {
	dir, err := w.JobDir(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}
	return nil
}
