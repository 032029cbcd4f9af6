package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/embeddenator/embeddenator/internal/engram"
	"github.com/embeddenator/embeddenator/internal/scanner"
	"github.com/embeddenator/embeddenator/internal/update"
)

// CoordinatorConfig wires a Coordinator to the engram it mutates and
// the filesystem root it watches.
type CoordinatorConfig struct {
	// RootPath is the absolute path to the watched directory.
	RootPath string

	// EngramPath is where the mutated engram is persisted after each
	// processed batch.
	EngramPath string

	// Handle is the open, mutable engram (root/codebook/manifest) that
	// file events are applied to.
	Handle *update.Handle

	// Scanner is used to re-enumerate the tree on OpGitignoreChange and
	// OpConfigChange, since a single pattern edit can add or remove an
	// arbitrary number of files from scope.
	Scanner *scanner.Scanner

	// ScanOptions mirrors the options ingest used to build Handle, so
	// reconciliation scans see the same tree ingest did.
	ScanOptions scanner.Options

	// TargetNonzero is the VSA target density Handle's vectors were
	// built with, needed to round-trip the engram header on persist.
	TargetNonzero int
}

// Coordinator applies batches of watcher.FileEvent to a live
// update.Handle and persists the result, the embeddenator-side
// counterpart of a search index's incremental-update coordinator:
// one mutex serializes batches so a Handle's in-memory state and its
// on-disk engram never diverge under concurrent event delivery.
type Coordinator struct {
	config CoordinatorConfig
	mu     sync.Mutex
}

// NewCoordinator creates a Coordinator over an already-open Handle.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{config: cfg}
}

// HandleEvents applies every event in a debounced batch, persisting
// the engram once at the end if any event actually mutated it.
// Individual event failures are logged and skipped rather than
// aborting the batch — a single unreadable file should not stall
// watching the rest of the tree.
func (c *Coordinator) HandleEvents(ctx context.Context, events []FileEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var mutated bool
	for _, event := range events {
		changed, err := c.handleEvent(ctx, event)
		if err != nil {
			slog.Warn("failed to process file event",
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
				slog.String("error", err.Error()))
			continue
		}
		mutated = mutated || changed
	}

	if !mutated {
		return nil
	}
	return c.persist()
}

func (c *Coordinator) handleEvent(ctx context.Context, event FileEvent) (bool, error) {
	if event.IsDir {
		return false, nil
	}

	switch event.Operation {
	case OpCreate, OpModify:
		return true, c.upsertFile(event.Path)
	case OpDelete:
		return true, c.removeFile(event.Path)
	case OpRename:
		// The watcher reports a rename on the old path; the new path
		// arrives as its own create event.
		return true, c.removeFile(event.Path)
	case OpGitignoreChange, OpConfigChange:
		return true, c.reconcile(ctx)
	default:
		return false, nil
	}
}

func (c *Coordinator) upsertFile(relPath string) error {
	absPath := filepath.Join(c.config.RootPath, relPath)

	info, err := os.Lstat(absPath)
	if err != nil {
		// File vanished between the event firing and us reading it;
		// nothing to index.
		return nil
	}
	if info.Mode()&os.ModeSymlink != 0 {
		slog.Debug("skipping symlink", slog.String("path", relPath))
		return nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}

	if existing := c.config.Handle.Manifest.Find(relPath); existing != nil && !existing.Deleted {
		return c.config.Handle.ModifyFile(relPath, data)
	}
	return c.config.Handle.AddFile(relPath, data)
}

func (c *Coordinator) removeFile(relPath string) error {
	existing := c.config.Handle.Manifest.Find(relPath)
	if existing == nil || existing.Deleted {
		return nil
	}
	return c.config.Handle.RemoveFile(relPath)
}

// reconcile re-scans the tree and applies the add/remove set needed
// to bring the manifest back in sync with what .gitignore or the
// project config now allow — a full rescan rather than the teacher's
// pattern-diff/subtree-scan strategies, since embeddenator manifests
// are small enough that a full reconciliation is cheap and this
// keeps the logic in one obviously-correct path.
func (c *Coordinator) reconcile(ctx context.Context) error {
	if c.config.Scanner == nil {
		slog.Warn("gitignore or config change detected but no scanner configured, skipping reconciliation")
		return nil
	}

	files, err := c.config.Scanner.Scan(c.config.RootPath, c.config.ScanOptions)
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.RelPath] = true
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.upsertFile(f.RelPath); err != nil {
			slog.Warn("reconciliation failed to index file",
				slog.String("path", f.RelPath), slog.String("error", err.Error()))
		}
	}

	for _, entry := range c.config.Handle.Manifest.Files {
		if entry.Deleted || present[entry.Path] {
			continue
		}
		if err := c.config.Handle.RemoveFile(entry.Path); err != nil {
			slog.Warn("reconciliation failed to remove file",
				slog.String("path", entry.Path), slog.String("error", err.Error()))
		}
	}

	return nil
}

func (c *Coordinator) persist() error {
	data, err := c.config.Handle.Manifest.MarshalSorted()
	if err != nil {
		return err
	}

	e := &engram.Engram{
		Dimension:     c.config.Handle.Root.Dim,
		TargetNonzero: c.config.TargetNonzero,
		Root:          c.config.Handle.Root,
		Codebook:      c.config.Handle.Codebook,
		ManifestKind:  engram.ManifestKindFlat,
		ManifestBytes: data,
	}
	return e.Save(c.config.EngramPath)
}
