// Sync engine: mirrors descriptors from peer CollecTor instances.
// Grounded on the downloader package's "fetch remote listing, stage,
// ingest" shape, with
// github.com/seiflotfy/cuckoofilter layered in as a fast,
// strictly non-authoritative pre-filter in front of the History file:
// a cuckoo filter has no false negatives, so a miss there proves the
// path was never recorded and the authoritative map lookup can be
// skipped outright; a hit still has to be confirmed against History,
// since the filter itself can false-positive.
package peersync

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/glog"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/fetch"
	"github.com/tor-collector/collector/fs"
	"github.com/tor-collector/collector/persist"
	"github.com/tor-collector/collector/retention"
	"github.com/tor-collector/collector/stats"
)

// peerIndexEntry is the subset of a peer's index.json this engine
// needs: relative path and last-modified stamp, used to select files
// newer than the history cursor.
type peerIndexEntry struct {
	Path         string
	LastModified time.Time
}

// peerIndexFile is a minimal decode target for a remote index.json;
// the full schema belongs to the index package, but the sync engine
// only ever needs paths and last_modified out of it.
type peerIndexFile struct {
	Directories []peerIndexDir `json:"directories"`
}

type peerIndexDir struct {
	Path        string         `json:"path"`
	Files       []peerIndexRec `json:"files"`
	Directories []peerIndexDir `json:"directories"`
}

type peerIndexRec struct {
	Path         string `json:"path"`
	LastModified string `json:"last_modified"`
}

const lastModifiedLayout = "2006-01-02 15:04"

// Engine runs the per-module peer sync phase.
type Engine struct {
	Fetcher     *fetch.Fetcher
	Writer      *persist.Writer
	StagingRoot string
	Stats       *stats.Registry
}

func New(fetcher *fetch.Fetcher, writer *persist.Writer, stagingRoot string, st *stats.Registry) *Engine {
	return &Engine{Fetcher: fetcher, Writer: writer, StagingRoot: stagingRoot, Stats: st}
}

func trimSlashes(s string) string {
	return strings.Trim(s, "/")
}

// timedFetch performs a fetch and, when e.Stats is set, records the
// call's wall-clock latency against the given module/peer tag.
func (e *Engine) timedFetch(ctx context.Context, tag, url string, acceptDeflated bool) ([]byte, error) {
	start := time.Now()
	body, err := e.Fetcher.Fetch(ctx, url, acceptDeflated)
	if e.Stats != nil {
		e.Stats.FetchLatency.WithLabelValues(tag).Observe(time.Since(start).Seconds())
	}
	return body, err
}

// SyncPeer fetches a peer's index.json, filters it to entries newer
// than the history cursor, stages and ingests each one, and merges
// the newly-seen paths back into history. collectedAt is stamped as
// ReceivedAt on every descriptor ingested this run.
func (e *Engine) SyncPeer(ctx context.Context, peerBaseURL, remoteDir string, parser descriptor.Parser, history *History, collectedAt time.Time, peerTag string) (ingested int, err error) {
	base := strings.TrimRight(peerBaseURL, "/") + "/" + trimSlashes(remoteDir)

	body, err := e.timedFetch(ctx, peerTag, base+"/index.json", true)
	if err != nil {
		return 0, cmn.Wrapf(err, "sync %s: fetch peer index", peerBaseURL)
	}

	var pidx peerIndexFile
	if err := jsoniter.Unmarshal(body, &pidx); err != nil {
		return 0, cmn.Wrapf(err, "sync %s: decode peer index", peerBaseURL)
	}
	entries := flattenIndex(pidx)

	// Seed a throwaway pre-filter from the current history so most
	// already-ingested files never reach the authoritative map lookup
	// at all. A cuckoo filter never reports a false negative, so a miss
	// here is proof the path was never inserted; only a hit needs
	// confirming against History.Covers, which also carries the
	// per-path last-modified comparison the filter can't encode.
	filter := cuckoo.NewFilter(uint(len(history.entriesSnapshot()) + len(entries) + 1))
	for p := range history.entriesSnapshot() {
		filter.InsertUnique(xxhashBytes(p))
	}

	stagingDir := filepath.Join(e.StagingRoot, peerTag, uuid.NewString())
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return 0, cmn.Wrapf(err, "sync %s: create staging dir", peerBaseURL)
	}
	defer os.RemoveAll(stagingDir)

	newlyIngested := make(map[string]time.Time)
	for _, ent := range entries {
		select {
		case <-ctx.Done():
			return ingested, cmn.ErrShutdownRequested
		default:
		}

		if filter.Lookup(xxhashBytes(ent.Path)) && history.Covers(ent.Path, ent.LastModified) {
			continue
		}

		raw, ferr := e.timedFetch(ctx, peerTag, base+"/"+strings.TrimPrefix(ent.Path, trimSlashes(remoteDir)+"/"), true)
		if ferr != nil {
			glog.Warningf("sync %s: fetch %s: %v", peerBaseURL, ent.Path, ferr)
			continue
		}

		// Stage the fetched bytes to disk before parsing, per the
		// fetch-stage-ingest pipeline: the staged copy is what the
		// parser actually reads, and what would be left behind for
		// inspection if parsing panicked.
		stagedPath := filepath.Join(stagingDir, filepath.FromSlash(ent.Path))
		if err := os.MkdirAll(filepath.Dir(stagedPath), 0o755); err != nil {
			glog.Warningf("sync %s: stage %s: %v", peerBaseURL, ent.Path, err)
			continue
		}
		if err := os.WriteFile(stagedPath, raw, 0o644); err != nil {
			glog.Warningf("sync %s: stage %s: %v", peerBaseURL, ent.Path, err)
			continue
		}
		staged, rerr := os.ReadFile(stagedPath)
		if rerr != nil {
			glog.Warningf("sync %s: read staged %s: %v", peerBaseURL, ent.Path, rerr)
			continue
		}

		descs, perrs := parser.Parse(staged)
		for _, perr := range perrs {
			glog.Warningf("sync %s: parse %s: %v (skipping malformed descriptor)", peerBaseURL, ent.Path, perr)
		}

		storeFailed := false
		for _, d := range descs {
			d.ReceivedAt = collectedAt
			paths, perr := fs.ComputePaths(d, collectedAt)
			if perr != nil {
				glog.Warningf("sync %s: compute paths for %s: %v, skipping descriptor", peerBaseURL, ent.Path, perr)
				continue
			}
			archiveRes, _, werr := e.Writer.StoreBoth(paths, d)
			if werr != nil {
				glog.Warningf("sync %s: store %s: %v", peerBaseURL, paths.Archive, werr)
				storeFailed = true
				continue
			}
			if archiveRes == persist.AlreadyPresentResult {
				if e.Stats != nil {
					e.Stats.SyncDedup.WithLabelValues(peerTag).Inc()
				}
				continue
			}
			ingested++
			if e.Stats != nil {
				e.Stats.BytesWritten.WithLabelValues(peerTag, "archive").Add(float64(len(d.Raw)))
			}
		}
		if storeFailed {
			continue
		}
		newlyIngested[ent.Path] = ent.LastModified
	}

	if err := history.MergeAndSave(newlyIngested); err != nil {
		return ingested, err
	}

	if n, err := retention.CleanOlderThan(e.Writer.RecentRoot, time.Now().Add(-retention.DefaultPolicy.Recent)); err != nil {
		glog.Warningf("sync %s: retention sweep: %v", peerBaseURL, err)
	} else if n > 0 && e.Stats != nil {
		e.Stats.RetentionEvict.WithLabelValues("recent").Add(float64(n))
	}

	return ingested, nil
}

func xxhashBytes(s string) []byte {
	h := xxhash.Sum64String(s)
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(h >> (8 * i))
	}
	return b
}

func flattenIndex(idx peerIndexFile) []peerIndexEntry {
	var out []peerIndexEntry
	for _, d := range idx.Directories {
		out = append(out, flattenDir(d)...)
	}
	return out
}

func flattenDir(d peerIndexDir) []peerIndexEntry {
	var out []peerIndexEntry
	for _, f := range d.Files {
		t, err := time.Parse(lastModifiedLayout, f.LastModified)
		if err != nil {
			continue
		}
		out = append(out, peerIndexEntry{Path: path.Join(d.Path, filepath.Base(f.Path)), LastModified: t})
	}
	for _, sub := range d.Directories {
		out = append(out, flattenDir(sub)...)
	}
	return out
}
