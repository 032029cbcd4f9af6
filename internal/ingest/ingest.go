package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/embeddenator/embeddenator/internal/chunker"
	"github.com/embeddenator/embeddenator/internal/codebook"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/manifest"
	"github.com/embeddenator/embeddenator/internal/scanner"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

// Config carries the VSA parameters and scan/chunk tuning knobs
// ingest needs.
type Config struct {
	Dimension     int
	TargetNonzero int
	ChunkSize     int
	Workers       int
	CacheSize     int
	ScanOptions   scanner.Options
}

// Result is the fully built in-memory engram contents: the bundled
// root vector, the populated codebook, and the manifest indexing it.
type Result struct {
	Root     *vsa.SparseVector
	Codebook *codebook.Store
	Manifest *manifest.FlatManifest
}

// namespacedFile is one file discovered under one top-level input,
// already assigned its namespace-prefixed logical path.
type namespacedFile struct {
	logicalPath string
	absPath     string
}

// fileChunks is the chunking-stage output for one file: computed in
// parallel, consumed sequentially.
type fileChunks struct {
	file   namespacedFile
	isText bool
	size   int64
	chunks []chunker.Chunk
}

// Paths ingests the given top-level input paths into a new flat
// engram. A single input is not namespace-prefixed (backward
// compatibility, §4.4 step 1); two or more inputs each get a prefix
// derived from their basename, with numeric suffixes disambiguating
// basename collisions in input order.
func Paths(ctx context.Context, inputs []string, cfg Config) (*Result, error) {
	if len(inputs) == 0 {
		return nil, errorsx.New(errorsx.KindInternal, "ingest requires at least one input path", nil)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultChunkSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	s, err := scanner.New()
	if err != nil {
		return nil, err
	}

	files, err := enumerateNamespaced(s, inputs, cfg.ScanOptions)
	if err != nil {
		return nil, err
	}

	chunked, err := chunkFilesParallel(ctx, files, cfg.ChunkSize, workers)
	if err != nil {
		return nil, err
	}

	cb, err := codebook.New(codebook.Config{
		Dimension:     cfg.Dimension,
		TargetNonzero: cfg.TargetNonzero,
		CacheSize:     cfg.CacheSize,
	})
	if err != nil {
		return nil, err
	}

	m := manifest.NewFlat()
	var idVectors []*vsa.SparseVector

	for _, fc := range chunked {
		if err := ctx.Err(); err != nil {
			return nil, errorsx.Wrap(errorsx.KindCancelled, err)
		}

		entry := manifest.FileEntry{
			Path:   fc.file.logicalPath,
			IsText: fc.isText,
			Size:   fc.size,
		}
		for _, c := range fc.chunks {
			id, err := cb.Insert(c.Bytes)
			if err != nil {
				return nil, err
			}
			v, err := cb.Vector(id)
			if err != nil {
				return nil, err
			}
			idVectors = append(idVectors, v)
			entry.ChunkIDs = append(entry.ChunkIDs, id)
		}
		m.AddFile(entry)
	}

	root, err := vsa.BundleSumMany(idVectors)
	if err != nil {
		return nil, err
	}

	return &Result{Root: root, Codebook: cb, Manifest: m}, nil
}

// enumerateNamespaced scans every top-level input and assigns each
// discovered file its namespace-prefixed logical path, preserving
// input order and, within an input, lexicographic scan order.
func enumerateNamespaced(s *scanner.Scanner, inputs []string, opts scanner.Options) ([]namespacedFile, error) {
	prefixes := disambiguatePrefixes(inputs)

	var out []namespacedFile
	for i, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, errorsx.IoError("failed to stat ingest input", err)
		}

		if !info.IsDir() {
			logical := input
			if len(inputs) > 1 {
				logical = filepath.Join(prefixes[i], filepath.Base(input))
			}
			out = append(out, namespacedFile{logicalPath: filepath.ToSlash(logical), absPath: input})
			continue
		}

		discovered, err := s.Scan(input, opts)
		if err != nil {
			return nil, err
		}
		for _, f := range discovered {
			logical := f.RelPath
			if len(inputs) > 1 {
				logical = filepath.ToSlash(filepath.Join(prefixes[i], f.RelPath))
			}
			out = append(out, namespacedFile{logicalPath: logical, absPath: f.AbsPath})
		}
	}
	return out, nil
}

// disambiguatePrefixes derives a namespace prefix per input from its
// basename, appending numeric suffixes ("docs", "docs_2", "docs_3")
// to resolve collisions, determined by input order (spec.md §4.4).
func disambiguatePrefixes(inputs []string) []string {
	prefixes := make([]string, len(inputs))
	seen := make(map[string]int)
	for i, input := range inputs {
		base := filepath.Base(filepath.Clean(input))
		seen[base]++
		if seen[base] == 1 {
			prefixes[i] = base
		} else {
			prefixes[i] = fmt.Sprintf("%s_%d", base, seen[base])
		}
	}
	return prefixes
}

// chunkFilesParallel reads and splits every file concurrently, bounded
// by workers, but returns results in the original deterministic order
// so downstream codebook insertion stays order-stable.
func chunkFilesParallel(ctx context.Context, files []namespacedFile, chunkSize, workers int) ([]fileChunks, error) {
	results := make([]fileChunks, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errorsx.Wrap(errorsx.KindCancelled, err)
			}
			data, err := os.ReadFile(f.absPath)
			if err != nil {
				return errorsx.IoError("failed to read ingest input file", err)
			}
			chunks, err := chunker.Split(data, chunkSize)
			if err != nil {
				return err
			}
			results[i] = fileChunks{
				file:   f,
				isText: chunker.IsText(data),
				size:   int64(len(data)),
				chunks: chunks,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// results is already in the deterministic order enumerateNamespaced
	// produced (input order, then lexicographic within each input);
	// parallel execution only affects completion timing, not slot index.
	return results, nil
}
