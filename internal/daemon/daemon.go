package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/embeddenator/embeddenator/internal/engram"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/ingest"
	"github.com/embeddenator/embeddenator/internal/manifest"
	"github.com/embeddenator/embeddenator/internal/retrieval"
	"github.com/embeddenator/embeddenator/internal/update"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

// Daemon owns a single engram and serves ingest/query/update/compact
// requests over a Unix socket, so that concurrent CLI invocations
// against the same engram path are serialized through one process
// instead of racing each other's on-disk writes.
type Daemon struct {
	config   Config
	pidFile  *PIDFile
	server   *Server
	engramLk *EngramLock

	mu            sync.RWMutex
	started       time.Time
	handle        *update.Handle
	index         *retrieval.Index
	targetNonzero int

	retrievalConfig retrieval.Config
}

// Option configures a Daemon at construction.
type Option func(*Daemon)

// WithRetrievalConfig overrides the shift-width/integrity-budget knobs
// the daemon's query index is built with, rather than the defaults.
func WithRetrievalConfig(cfg retrieval.Config) Option {
	return func(d *Daemon) { d.retrievalConfig = cfg }
}

// NewDaemon creates a Daemon for the given config. It does not open
// the engram or start listening; call Start for that.
func NewDaemon(cfg Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		config:  cfg,
		pidFile: NewPIDFile(cfg.PIDPath),
	}
	for _, opt := range opts {
		opt(d)
	}

	server, err := NewServer(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	d.server = server
	server.SetHandler(d)

	if cfg.EngramPath != "" {
		d.engramLk = NewEngramLock(cfg.EngramPath)
	}

	return d, nil
}

// Start acquires the PID file and engram lock, opens the engram if one
// already exists at EngramPath, and serves until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.config.EnsureDir(); err != nil {
		return err
	}
	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = d.pidFile.Remove() }()

	if d.engramLk != nil {
		if err := d.engramLk.Lock(); err != nil {
			return fmt.Errorf("failed to acquire engram lock: %w", err)
		}
		defer func() { _ = d.engramLk.Unlock() }()
	}

	d.mu.Lock()
	d.started = time.Now()
	if d.config.EngramPath != "" {
		if e, err := engram.Load(d.config.EngramPath, 0, 0, 256); err == nil {
			d.adoptEngram(e)
		}
	}
	d.mu.Unlock()

	slog.Info("daemon starting", slog.String("engram_path", d.config.EngramPath))
	err := d.server.ListenAndServe(ctx)
	slog.Info("daemon stopped")
	return err
}

// Stop closes the listening socket, causing ListenAndServe to return.
func (d *Daemon) Stop() error {
	return d.server.Close()
}

// adoptEngram installs a freshly loaded engram as the daemon's
// in-memory working set. Caller holds d.mu.
func (d *Daemon) adoptEngram(e *engram.Engram) {
	m, err := manifestFromEngram(e)
	if err != nil {
		slog.Warn("failed to parse engram manifest", slog.String("error", err.Error()))
		return
	}
	d.handle = update.Open(update.Config{
		Dimension:     e.Dimension,
		TargetNonzero: e.TargetNonzero,
		ChunkSize:     0,
		CacheSize:     256,
	}, e.Root, e.Codebook, m)
	d.targetNonzero = e.TargetNonzero
	d.index = nil
}

// HandleIngest builds a fresh engram from RootPath and persists it at
// EngramPath, replacing whatever engram the daemon previously held.
func (d *Daemon) HandleIngest(ctx context.Context, params IngestParams) (IngestResult, error) {
	dim := params.Dimension
	if dim == 0 {
		dim = 8192
	}
	targetNonzero := params.TargetNonzero
	if targetNonzero == 0 {
		targetNonzero = 32
	}
	chunkSize := params.ChunkSize

	result, err := ingest.Paths(ctx, []string{params.RootPath}, ingest.Config{
		Dimension:     dim,
		TargetNonzero: targetNonzero,
		ChunkSize:     chunkSize,
		Workers:       1,
		CacheSize:     256,
	})
	if err != nil {
		return IngestResult{}, err
	}

	manifestBytes, err := result.Manifest.MarshalSorted()
	if err != nil {
		return IngestResult{}, err
	}

	e := &engram.Engram{
		Dimension:     dim,
		TargetNonzero: targetNonzero,
		Root:          result.Root,
		Codebook:      result.Codebook,
		ManifestKind:  engram.ManifestKindFlat,
		ManifestBytes: manifestBytes,
	}
	if err := e.Save(params.EngramPath); err != nil {
		return IngestResult{}, err
	}

	d.mu.Lock()
	d.config.EngramPath = params.EngramPath
	d.handle = update.Open(update.Config{
		Dimension:     dim,
		TargetNonzero: targetNonzero,
		ChunkSize:     chunkSize,
		CacheSize:     256,
	}, result.Root, result.Codebook, result.Manifest)
	d.targetNonzero = targetNonzero
	d.index = nil
	d.mu.Unlock()

	return IngestResult{
		EngramPath:    params.EngramPath,
		FilesIndexed:  len(result.Manifest.Files),
		ChunksWritten: result.Codebook.Len(),
	}, nil
}

// HandleQuery answers a text query against the daemon's currently open
// engram, building the inverted index lazily on first use.
func (d *Daemon) HandleQuery(ctx context.Context, params QueryParams) (QueryResult, error) {
	d.mu.Lock()
	if d.handle == nil {
		d.mu.Unlock()
		return QueryResult{}, errorsx.New(errorsx.KindInternal, "no engram loaded", nil)
	}
	if d.index == nil {
		idx, err := retrieval.BuildIndex(d.handle.Codebook, d.handle.Root.Dim, d.retrievalConfig)
		if err != nil {
			d.mu.Unlock()
			return QueryResult{}, err
		}
		d.index = idx
	}
	index := d.index
	handle := d.handle
	d.mu.Unlock()

	d.mu.RLock()
	targetNonzero := d.targetNonzero
	d.mu.RUnlock()
	queryVec := vsa.EncodeContent([]byte(params.QueryText), handle.Root.Dim, targetNonzero)
	results, err := retrieval.Query(index, queryVec, handle.Codebook, params.TopK)
	if err != nil {
		return QueryResult{}, err
	}

	matches := make([]QueryMatch, 0, len(results))
	for _, r := range results {
		path, _ := pathForChunk(handle, r.ChunkID)
		matches = append(matches, QueryMatch{
			Path:    path,
			ChunkID: uintToHex(r.ChunkID),
			Score:   r.Score,
		})
	}
	return QueryResult{Matches: matches}, nil
}

// HandleUpdate applies one incremental mutation to the daemon's open
// engram and persists the result.
func (d *Daemon) HandleUpdate(ctx context.Context, params UpdateParams) (UpdateResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == nil {
		return UpdateResult{}, errorsx.New(errorsx.KindInternal, "no engram loaded", nil)
	}

	var err error
	switch params.Op {
	case UpdateOpAdd:
		err = d.handle.AddFile(params.Path, params.Content)
	case UpdateOpRemove:
		err = d.handle.RemoveFile(params.Path)
	case UpdateOpModify:
		err = d.handle.ModifyFile(params.Path, params.Content)
	}
	if err != nil {
		return UpdateResult{}, err
	}
	d.index = nil

	if err := d.persistLocked(); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{EngramPath: d.config.EngramPath, Mutated: true}, nil
}

// HandleCompact reclaims tombstoned codebook entries from the
// daemon's open engram.
func (d *Daemon) HandleCompact(ctx context.Context, params CompactParams) (CompactResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == nil {
		return CompactResult{}, errorsx.New(errorsx.KindInternal, "no engram loaded", nil)
	}

	before := d.handle.Codebook.Len()
	compacted, err := d.handle.Compact(ctx)
	if err != nil {
		return CompactResult{}, err
	}
	d.handle = compacted
	d.index = nil
	reclaimed := before - d.handle.Codebook.Len()

	if err := d.persistLocked(); err != nil {
		return CompactResult{}, err
	}
	return CompactResult{EngramPath: d.config.EngramPath, ChunksReclaimed: reclaimed}, nil
}

// GetStatus reports liveness plus the currently open engram's shape.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := StatusResult{
		Running:    true,
		Uptime:     time.Since(d.started).Round(time.Second).String(),
		EngramPath: d.config.EngramPath,
	}
	if d.handle != nil {
		status.Dimension = d.handle.Root.Dim
		status.FileCount = len(d.handle.Manifest.Files)
		status.ChunkCount = d.handle.Codebook.ActiveCount()
	}
	return status
}

// persistLocked serializes the in-memory handle to EngramPath. Caller
// holds d.mu.
func (d *Daemon) persistLocked() error {
	data, err := d.handle.Manifest.MarshalSorted()
	if err != nil {
		return err
	}
	e := &engram.Engram{
		Dimension:     d.handle.Root.Dim,
		TargetNonzero: d.targetNonzero,
		Root:          d.handle.Root,
		Codebook:      d.handle.Codebook,
		ManifestKind:  engram.ManifestKindFlat,
		ManifestBytes: data,
	}
	return e.Save(d.config.EngramPath)
}

// pathForChunk finds the file a chunk-id belongs to by scanning the
// open manifest; daemon-held manifests are expected to be small enough
// that a linear scan per query result is not a bottleneck.
func pathForChunk(h *update.Handle, chunkID uint64) (string, bool) {
	for _, entry := range h.Manifest.Files {
		for _, id := range entry.ChunkIDs {
			if id == chunkID {
				return entry.Path, true
			}
		}
	}
	return "", false
}

func uintToHex(v uint64) string {
	return fmt.Sprintf("%016x", v)
}

// manifestFromEngram decodes an engram's raw manifest bytes. Hierarchical
// engrams are not servable by the daemon's query/update/compact surface
// (those act on one flat manifest's chunk-ids at a time); HandleIngest
// only ever produces a flat manifest, so any such engram this daemon
// picks up at startup is rejected.
func manifestFromEngram(e *engram.Engram) (*manifest.FlatManifest, error) {
	if e.ManifestKind != engram.ManifestKindFlat {
		return nil, errorsx.New(errorsx.KindInvalidManifestVersion, "daemon only serves flat-manifest engrams", nil)
	}
	return manifest.UnmarshalFlat(e.ManifestBytes)
}
