// Package peersync implements the peer synchronization engine:
// mirroring and merging descriptors from peer CollecTor instances
// while avoiding duplicates via a per-(source, module, kind) history
// file. Grounded on the downloader package (peer mirroring shares its
// "stage, then ingest" shape) and cmn/jsp's atomic-rewrite discipline
// for the history file itself.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package peersync

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/cmn/cos"
)

// historyTimeLayout is the on-disk timestamp format for a history
// entry's last-modified stamp.
const historyTimeLayout = time.RFC3339

// History is the per-(source, module, descriptor-type) record of peer
// files already ingested: each line is "path\tlast-modified". Per spec
// invariant 4, the recorded stamp is what lets a later sync recognize
// that a peer file at the same relative path has since been appended
// to (a newer last_modified than what's on record) and needs
// re-ingesting rather than being skipped forever. It monotonically
// advances -- entries are only ever added or bumped forward, and the
// file is rewritten atomically only after a successful batch, so a
// crash mid-sync replays the batch rather than losing history.
type History struct {
	path    string
	entries map[string]time.Time
}

// LoadHistory reads path, tolerating its absence (first sync ever). A
// line with no recognizable timestamp suffix is treated as an entry
// with a zero last-modified stamp, which Covers will treat as already
// covered by any non-zero stamp a peer reports -- legacy path-only
// history lines (e.g. written before this field existed) default to
// "already ingested as of no particular time," which is the safe,
// conservative read of a file written before per-path timestamps
// existed.
func LoadHistory(path string) (*History, error) {
	h := &History{path: path, entries: make(map[string]time.Time)}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return h, nil
	}
	if err != nil {
		return nil, cmn.Wrapf(err, "open history %s", path)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		p, ts := parseHistoryLine(line)
		h.entries[p] = ts
	}
	if err := sc.Err(); err != nil {
		return nil, cmn.Wrapf(err, "read history %s", path)
	}
	return h, nil
}

func parseHistoryLine(line string) (relPath string, lastModified time.Time) {
	idx := strings.LastIndexByte(line, '\t')
	if idx < 0 {
		return line, time.Time{}
	}
	t, err := time.Parse(historyTimeLayout, line[idx+1:])
	if err != nil {
		return line, time.Time{}
	}
	return line[:idx], t
}

// Has reports whether relPath was ever recorded as ingested,
// regardless of the last-modified stamp on file.
func (h *History) Has(relPath string) bool {
	_, ok := h.entries[relPath]
	return ok
}

// Covers reports whether relPath was already ingested at a
// last-modified stamp at or after lastModified -- i.e. whether a peer
// entry with this path and stamp can be skipped. A peer file whose
// content is appended to after the recorded stamp (same path, later
// last_modified) is not covered, so the sync engine re-fetches it.
// An entry loaded with a zero stamp (a legacy path-only line) covers
// every stamp.
func (h *History) Covers(relPath string, lastModified time.Time) bool {
	recorded, ok := h.entries[relPath]
	if !ok {
		return false
	}
	if recorded.IsZero() {
		return true
	}
	return !lastModified.After(recorded)
}

// Size returns the number of recorded entries, used to assert that
// history only ever grows across a batch.
func (h *History) Size() int { return len(h.entries) }

// entriesSnapshot returns the current entry set for seeding a
// throwaway pre-filter. Callers must not mutate the result.
func (h *History) entriesSnapshot() map[string]time.Time { return h.entries }

// MergeAndSave advances the recorded last-modified stamp for every
// (path, lastModified) pair in updates -- only ever forward, never
// backward, per the monotonic-advance invariant -- and rewrites the
// file atomically. Callers must only invoke this once the entire
// batch has been durably persisted to archive/recent.
func (h *History) MergeAndSave(updates map[string]time.Time) error {
	if len(updates) == 0 {
		return nil
	}
	for p, ts := range updates {
		if existing, ok := h.entries[p]; !ok || ts.After(existing) {
			h.entries[p] = ts
		}
	}
	paths := make([]string, 0, len(h.entries))
	for p := range h.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	tmp := h.path + ".tmp." + cos.GenTie()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return cmn.Wrapf(err, "rewrite history %s", h.path)
	}
	w := bufio.NewWriter(f)
	for _, p := range paths {
		if _, err := w.WriteString(p + "\t" + h.entries[p].UTC().Format(historyTimeLayout) + "\n"); err != nil {
			f.Close()
			return cmn.Wrapf(err, "rewrite history %s", h.path)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return cmn.Wrapf(err, "rewrite history %s", h.path)
	}
	if err := cos.FlushClose(f); err != nil {
		return cmn.Wrapf(err, "rewrite history %s", h.path)
	}
	return os.Rename(tmp, h.path)
}
