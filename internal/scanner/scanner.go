// Package scanner enumerates input files for ingestion in strict
// lexicographic order, the ordering ingest relies on for byte-stable
// manifests (spec.md §4.4). Directory exclusion honors an optional
// .gitignore per directory, cached with an LRU to bound memory growth
// on repeated scans of the same tree (mirrors the teacher's
// scanner/gitignore-cache pairing).
package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/gitignore"
)

// gitignoreCacheSize bounds the number of per-directory gitignore
// matchers kept in memory during a single scan.
const gitignoreCacheSize = 1000

// File is one discovered input file, relative to the scan root.
type File struct {
	RelPath string
	AbsPath string
	Size    int64
}

// Options configures a scan: which patterns to honor on top of
// .gitignore and whether .gitignore itself should be consulted.
type Options struct {
	RespectGitignore bool
	ExcludeGlobs     []string
	IncludeGlobs     []string
}

// Scanner enumerates a directory tree for ingestion.
type Scanner struct {
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	mu             sync.Mutex
}

// New creates a Scanner with its gitignore matcher cache.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, errorsx.IoError("failed to create gitignore cache", err)
	}
	return &Scanner{gitignoreCache: cache}, nil
}

// Scan walks root and returns every regular file in strict
// lexicographic order of its path relative to root.
func (s *Scanner) Scan(root string, opts Options) ([]File, error) {
	var files []File

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if opts.RespectGitignore && s.isIgnored(root, path, rel, true) {
				return filepath.SkipDir
			}
			if matchesAny(rel, opts.ExcludeGlobs) {
				return filepath.SkipDir
			}
			return nil
		}

		if opts.RespectGitignore && s.isIgnored(root, path, rel, false) {
			return nil
		}
		if matchesAny(rel, opts.ExcludeGlobs) {
			return nil
		}
		if len(opts.IncludeGlobs) > 0 && !matchesAny(rel, opts.IncludeGlobs) {
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			return statErr
		}
		files = append(files, File{RelPath: rel, AbsPath: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, errorsx.IoError("failed to walk input directory", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func (s *Scanner) isIgnored(root, absPath, relPath string, isDir bool) bool {
	dir := filepath.Dir(absPath)
	m := s.matcherFor(root, dir)
	return m.Match(relPath, isDir)
}

// matcherFor returns the cumulative gitignore matcher for dir, merging
// every .gitignore from root down to dir, cached by dir.
func (s *Scanner) matcherFor(root, dir string) *gitignore.Matcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.gitignoreCache.Get(dir); ok {
		return cached
	}

	m := gitignore.New()
	var components []string
	for d := dir; strings.HasPrefix(d, root); {
		rel, err := filepath.Rel(root, d)
		if err != nil || rel == "." {
			break
		}
		components = append([]string{d}, components...)
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	components = append([]string{root}, components...)

	for _, c := range components {
		gi := filepath.Join(c, ".gitignore")
		base, err := filepath.Rel(root, c)
		if err != nil {
			base = ""
		}
		_ = m.AddFromFile(gi, base)
	}

	s.gitignoreCache.Add(dir, m)
	return m
}

func matchesAny(relPath string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, relPath); ok {
			return true
		}
		if ok, _ := filepath.Match(g, filepath.Base(relPath)); ok {
			return true
		}
	}
	return false
}

// InvalidateCache drops every cached gitignore matcher, forcing the
// next scan to re-read .gitignore files from disk.
func (s *Scanner) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gitignoreCache.Purge()
}
