package index

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/karrick/godirwalk"
	"golang.org/x/sync/singleflight"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/descriptor"
)

// Root names one top-level subtree to index, e.g. {"archive",
// archiveRoot} or {"recent", recentRoot}. Label becomes the top-level
// DirectoryNode path so the two trees never collide.
type Root struct {
	Label string
	Path  string
}

// Builder walks the archive and recent trees and maintains an
// in-memory index.Document, reusing FileNodes whose last_modified is
// unchanged.
type Builder struct {
	InstanceBaseURL string
	BuildRevision   string
	Roots           []Root
	Workers         int
	Parser          descriptor.Parser // optional: nil disables type/published extraction

	prevByPath map[string]*FileNode
	group      singleflight.Group
}

func NewBuilder(instanceBaseURL, buildRevision string, roots []Root, workers int, parser descriptor.Parser) *Builder {
	if workers <= 0 {
		workers = 4
	}
	return &Builder{
		InstanceBaseURL: instanceBaseURL,
		BuildRevision:   buildRevision,
		Roots:           roots,
		Workers:         workers,
		Parser:          parser,
	}
}

// LoadPrevious seeds the builder's reuse map from a previously emitted
// document.
func (b *Builder) LoadPrevious(doc *Document) {
	b.prevByPath = make(map[string]*FileNode)
	var walk func(d *DirectoryNode)
	walk = func(d *DirectoryNode) {
		for _, f := range d.Files {
			b.prevByPath[f.Path] = f
		}
		for _, sub := range d.Directories {
			walk(sub)
		}
	}
	if doc != nil {
		for _, d := range doc.Directories {
			walk(d)
		}
	}
}

// walkFile is one on-disk regular file discovered under a root,
// before it's classified as reused or enqueued for (re-)indexing.
type walkFile struct {
	relDir  string
	relPath string
	absPath string
	size    int64
	modTime string
}

// Build performs one full incremental pass -- reusing unchanged
// entries, hashing the rest, deduplicating concurrent work on the same
// path -- and returns the new Document. It does not emit to disk --
// callers pair this with Emit.
func (b *Builder) Build(ctx context.Context, now time.Time) (*Document, error) {
	if b.prevByPath == nil {
		b.prevByPath = map[string]*FileNode{}
	}

	var files []walkFile
	for _, root := range b.Roots {
		if _, err := os.Stat(root.Path); os.IsNotExist(err) {
			continue
		}
		root := root
		walkErr := godirwalk.Walk(root.Path, &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				if de.IsDir() {
					return nil
				}
				fi, statErr := os.Lstat(path)
				if statErr != nil || !fi.Mode().IsRegular() {
					return nil
				}
				rel, relErr := filepath.Rel(root.Path, path)
				if relErr != nil {
					return nil
				}
				rel = filepath.ToSlash(rel)
				relDir := filepath.ToSlash(filepath.Dir(rel))
				if relDir == "." {
					relDir = root.Label
				} else {
					relDir = root.Label + "/" + relDir
				}
				files = append(files, walkFile{
					relDir:  relDir,
					relPath: root.Label + "/" + rel,
					absPath: path,
					size:    fi.Size(),
					modTime: fi.ModTime().UTC().Format(TimestampLayout),
				})
				return nil
			},
		})
		if walkErr != nil {
			return nil, cmn.Wrapf(walkErr, "index: walk %s", root.Path)
		}
	}

	nodes := make([]*FileNode, len(files))
	sem := make(chan struct{}, b.Workers)
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	for i, wf := range files {
		select {
		case <-ctx.Done():
			return nil, cmn.ErrShutdownRequested
		default:
		}
		i, wf := i, wf
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if prev, ok := b.prevByPath[wf.relPath]; ok && prev.LastModified == wf.modTime {
				nodes[i] = prev
				return
			}

			// singleflight collapses concurrent hash requests for the
			// same path into one computation.
			v, err, _ := b.group.Do(wf.relPath, func() (interface{}, error) {
				return b.indexOne(wf)
			})
			if err != nil {
				glog.Warningf("index: %s: %v", wf.relPath, err)
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}
			nodes[i] = v.(*FileNode)
		}()
	}
	wg.Wait()

	tree := map[string]*DirectoryNode{}
	var root []*DirectoryNode
	var getDir func(relDir string) *DirectoryNode
	getDir = func(relDir string) *DirectoryNode {
		if d, ok := tree[relDir]; ok {
			return d
		}
		d := &DirectoryNode{Path: relDir}
		tree[relDir] = d
		parentDir := filepath.ToSlash(filepath.Dir(relDir))
		if parentDir == "." || parentDir == relDir {
			root = append(root, d)
		} else {
			parent := getDir(parentDir)
			parent.Directories = append(parent.Directories, d)
		}
		return d
	}

	for i, wf := range files {
		if nodes[i] == nil {
			continue // failed to index, dropped from this pass
		}
		d := getDir(wf.relDir)
		d.Files = append(d.Files, nodes[i])
	}

	sortTree(root)

	doc := &Document{
		IndexCreated:  now.UTC().Format(TimestampLayout),
		Path:          b.InstanceBaseURL,
		BuildRevision: b.BuildRevision,
		Directories:   root,
	}
	return doc, firstErr
}

func sortTree(dirs []*DirectoryNode) {
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Path < dirs[j].Path })
	for _, d := range dirs {
		sort.Slice(d.Files, func(i, j int) bool { return d.Files[i].Path < d.Files[j].Path })
		sortTree(d.Directories)
	}
}

// indexOne computes size/last_modified/sha256 and, when a Parser is
// configured, the declared @types and min/max published timestamps.
func (b *Builder) indexOne(wf walkFile) (*FileNode, error) {
	raw, err := os.ReadFile(wf.absPath)
	if err != nil {
		return nil, cmn.Wrapf(err, "read %s", wf.absPath)
	}
	sum := sha256.Sum256(raw)
	node := &FileNode{
		Path:         wf.relPath,
		Size:         wf.size,
		LastModified: wf.modTime,
		SHA256:       base64.StdEncoding.EncodeToString(sum[:]),
		Types:        scanTypes(raw),
	}

	if b.Parser != nil {
		descs, _ := b.Parser.Parse(raw)
		var first, last time.Time
		for _, d := range descs {
			if first.IsZero() || d.Published.Before(first) {
				first = d.Published
			}
			if d.Published.After(last) {
				last = d.Published
			}
		}
		if !first.IsZero() {
			node.FirstPublished = first.UTC().Format(TimestampLayout)
			node.LastPublished = last.UTC().Format(TimestampLayout)
		}
	}
	return node, nil
}

// scanTypes extracts every distinct `@type <kind> <version>` line
// verbatim, without requiring a full descriptor parser -- CollecTor
// treats the descriptor grammar itself as an external collaborator. A
// batched file may carry one annotation per concatenated descriptor,
// so the whole file is scanned, not just its head.
func scanTypes(raw []byte) []string {
	var types []string
	seen := map[string]bool{}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "@type ") {
			continue
		}
		token := strings.TrimSpace(strings.TrimPrefix(line, "@type "))
		if !seen[token] {
			seen[token] = true
			types = append(types, token)
		}
	}
	return types
}
