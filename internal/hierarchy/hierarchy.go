package hierarchy

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/embeddenator/embeddenator/internal/codebook"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/manifest"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

// Config tunes the hierarchical bundler.
type Config struct {
	Dimension        int
	TargetNonzero    int
	MaxChunksPerNode int

	// RootPath is recorded verbatim into the resulting manifest's
	// root_path field (spec.md §6); it is not otherwise interpreted.
	RootPath string
}

// Shard is one router/shard sub-engram's contents: a self-contained
// set of members with its own bundled vector, named so lexical and
// numeric order agree (spec.md §4.6's zero-padded `__shard_NNNN`).
type Shard struct {
	Name     string
	Vector   *vsa.SparseVector
	Members  []Member
	ChunkIDs []uint64
}

// Member is one chunk contributing to a node: its owning file path,
// chunk-id, and id-vector.
type Member struct {
	FilePath string
	ChunkID  uint64
	Vector   *vsa.SparseVector
}

// Node is one directory's aggregated entry in the hierarchical
// manifest: either a plain bundled node, or a router whose members
// were partitioned into Shards.
type Node struct {
	DirPath  string
	Vector   *vsa.SparseVector
	IsRouter bool
	Shards   []Shard
	Members  []Member
}

// Result is the fully built hierarchical engram contents.
type Result struct {
	Root     *vsa.SparseVector
	Manifest *manifest.HierarchicalManifest
	Nodes    []Node
}

// Build groups every file's chunks by containing directory, bundles
// each directory into a node (splitting into router/shards when the
// member count exceeds cfg.MaxChunksPerNode), then bundles all
// directory nodes into the root (spec.md §4.6).
func Build(flat *manifest.FlatManifest, cb *codebook.Store, cfg Config) (*Result, error) {
	if cfg.MaxChunksPerNode <= 0 {
		return nil, errorsx.New(errorsx.KindInternal, "max_chunks_per_node must be positive", nil)
	}

	byDir := make(map[string][]Member)
	for _, f := range flat.Files {
		if f.Deleted {
			continue
		}
		dir := path.Dir(f.Path)
		for _, id := range f.ChunkIDs {
			v, err := cb.Vector(id)
			if err != nil {
				return nil, err
			}
			byDir[dir] = append(byDir[dir], Member{FilePath: f.Path, ChunkID: id, Vector: v})
		}
	}

	dirs := sortedKeys(byDir)
	nodes := make([]Node, 0, len(dirs))
	m := manifest.NewHierarchical(cfg.RootPath)
	var topLevelVectors []*vsa.SparseVector
	itemsByDepth := make(map[int][]manifest.ManifestItem)

	for _, dir := range dirs {
		members := byDir[dir]
		sort.Slice(members, func(i, j int) bool {
			if members[i].FilePath != members[j].FilePath {
				return members[i].FilePath < members[j].FilePath
			}
			return members[i].ChunkID < members[j].ChunkID
		})

		depth := pathDepth(dir)
		perm := vsa.NewPermutation([]byte(fmt.Sprintf("hierarchy-depth-%d", depth)), cfg.Dimension)

		node, err := buildNode(dir, members, perm, cfg)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
		topLevelVectors = append(topLevelVectors, node.Vector)

		item := manifest.ManifestItem{Path: dir, ItemType: manifest.ItemTypeDirectory}
		if node.IsRouter {
			for _, s := range node.Shards {
				m.AddSubEngram(dir+"/"+s.Name, manifest.SubEngramRef{ArtifactFile: s.Name + ".engram"})
			}
		} else {
			for _, mem := range members {
				item.ChunkIDs = append(item.ChunkIDs, mem.ChunkID)
			}
		}
		itemsByDepth[depth] = append(itemsByDepth[depth], item)
	}

	for _, depth := range sortedIntKeys(itemsByDepth) {
		m.AddLevel(manifest.ManifestLevel{Depth: depth, Items: itemsByDepth[depth]})
	}

	root, err := vsa.BundleSumMany(topLevelVectors)
	if err != nil {
		return nil, err
	}

	return &Result{Root: root, Manifest: m, Nodes: nodes}, nil
}

// buildNode bundles members into a single node, or — when the member
// count exceeds MaxChunksPerNode — partitions them into deterministic,
// zero-padded shards and bundles the shard vectors into the router's
// own vector.
func buildNode(dirPath string, members []Member, perm *vsa.Permutation, cfg Config) (Node, error) {
	if len(members) <= cfg.MaxChunksPerNode {
		permuted := make([]*vsa.SparseVector, len(members))
		for i, mem := range members {
			permuted[i] = perm.Apply(mem.Vector)
		}
		v, err := vsa.BundleSumMany(permuted)
		if err != nil {
			return Node{}, err
		}
		return Node{DirPath: dirPath, Vector: v, Members: members}, nil
	}

	shardCount := (len(members) + cfg.MaxChunksPerNode - 1) / cfg.MaxChunksPerNode
	width := digitWidth(shardCount)

	var shards []Shard
	var shardVectors []*vsa.SparseVector
	for i := 0; i < shardCount; i++ {
		start := i * cfg.MaxChunksPerNode
		end := start + cfg.MaxChunksPerNode
		if end > len(members) {
			end = len(members)
		}
		shardMembers := members[start:end]

		permuted := make([]*vsa.SparseVector, len(shardMembers))
		var ids []uint64
		for j, mem := range shardMembers {
			permuted[j] = perm.Apply(mem.Vector)
			ids = append(ids, mem.ChunkID)
		}
		v, err := vsa.BundleSumMany(permuted)
		if err != nil {
			return Node{}, err
		}

		name := fmt.Sprintf("__shard_%0*d", width, i)
		shards = append(shards, Shard{Name: name, Vector: v, Members: shardMembers, ChunkIDs: ids})
		shardVectors = append(shardVectors, v)
	}

	routerVector, err := vsa.BundleSumMany(shardVectors)
	if err != nil {
		return Node{}, err
	}
	return Node{DirPath: dirPath, Vector: routerVector, IsRouter: true, Shards: shards}, nil
}

func pathDepth(p string) int {
	if p == "." || p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

func digitWidth(n int) int {
	if n <= 1 {
		return 4
	}
	width := 0
	for v := n - 1; v > 0; v /= 10 {
		width++
	}
	if width < 4 {
		return 4
	}
	return width
}

func sortedKeys(m map[string][]Member) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedIntKeys(m map[int][]manifest.ManifestItem) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
