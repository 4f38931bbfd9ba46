package modules

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/fs"
	"github.com/tor-collector/collector/modrunner"
	"github.com/tor-collector/collector/persist"
	"github.com/tor-collector/collector/sanitize"
	"github.com/tor-collector/collector/stats"
)

const poolAssignmentHeader = "bridge-pool-assignment "

// BridgePool ingests BridgeDB's assignments.log dumps from a local
// spool directory. Each dump batches one snapshot per
// `bridge-pool-assignment <timestamp>` header; every assignment line
// below a header starts with the bridge's hex fingerprint, which is
// replaced by the SHA-1 of its binary form before anything is
// persisted.
type BridgePool struct {
	Writer *persist.Writer
	Stats  *stats.Registry
}

func NewBridgePool(writer *persist.Writer) *BridgePool {
	return &BridgePool{Writer: writer}
}

func (m *BridgePool) Name() string       { return "Bridgepools" }
func (m *BridgePool) SyncMarker() string { return "Bridgepools" }

func (m *BridgePool) RecentMap() []modrunner.RecentMapEntry {
	return []modrunner.RecentMapEntry{{RelDir: "bridge-pool-assignments", Kind: "bridge-pool-assignment"}}
}

func (m *BridgePool) RunOnce(ctx context.Context, snap *cmn.Snapshot) error {
	sources, err := snap.GetSources("BridgepoolsSources")
	if err != nil {
		return err
	}
	if !sources.Has(cmn.SourceLocal) {
		return nil
	}
	spool := snap.GetString("BridgepoolsLocalOrigin", "")
	if spool == "" {
		return nil
	}

	entries, err := os.ReadDir(spool)
	if err != nil {
		return cmn.Wrapf(err, "bridgepools: read spool %s", spool)
	}

	now := time.Now().UTC()
	for _, ent := range entries {
		select {
		case <-ctx.Done():
			return cmn.ErrShutdownRequested
		default:
		}
		if ent.IsDir() {
			continue
		}
		raw, rerr := os.ReadFile(filepath.Join(spool, ent.Name()))
		if rerr != nil {
			glog.Warningf("bridgepools: read %s: %v", ent.Name(), rerr)
			continue
		}
		for _, rec := range splitPoolAssignments(raw) {
			sanitized, published, serr := sanitizePoolAssignment(rec)
			if serr != nil {
				glog.Warningf("bridgepools: %s: %v, skipping snapshot", ent.Name(), serr)
				continue
			}
			d := &descriptor.Descriptor{
				Kind:       descriptor.BridgePoolAssignment,
				Raw:        sanitized,
				Published:  published,
				ReceivedAt: now,
			}
			paths, perr := fs.ComputePaths(d, now)
			if perr != nil {
				glog.Warningf("bridgepools: %s: %v, skipping snapshot", ent.Name(), perr)
				continue
			}
			if _, _, werr := m.Writer.StoreBoth(paths, d); werr != nil {
				return werr
			}
		}
	}
	return nil
}

// splitPoolAssignments breaks an assignments.log dump into one record
// per `bridge-pool-assignment <timestamp>` header, each record
// carrying its header as the first line. Bytes before the first
// header are dropped.
func splitPoolAssignments(raw []byte) [][]byte {
	var starts []int
	offset := 0
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if bytes.HasPrefix(line, []byte(poolAssignmentHeader)) {
			starts = append(starts, offset)
		}
		offset += len(line) + 1
	}
	records := make([][]byte, 0, len(starts))
	for i, s := range starts {
		end := len(raw)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		records = append(records, raw[s:end])
	}
	return records
}

// sanitizePoolAssignment rewrites one snapshot record: the header's
// timestamp becomes the record's published time, and the leading
// 40-hex fingerprint of every assignment line is replaced by the
// SHA-1 of its binary form. Lines whose first token isn't a
// well-formed fingerprint pass through untouched.
func sanitizePoolAssignment(rec []byte) ([]byte, time.Time, error) {
	var published time.Time
	var out bytes.Buffer
	out.Grow(len(rec))

	sc := bufio.NewScanner(bytes.NewReader(rec))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, poolAssignmentHeader):
			val := strings.TrimPrefix(line, poolAssignmentHeader)
			t, err := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(val))
			if err != nil {
				return nil, time.Time{}, cmn.Wrapf(err, "pool assignment header %q", line)
			}
			published = t
			out.WriteString(line)
		default:
			out.WriteString(scrubAssignmentLine(line))
		}
		out.WriteByte('\n')
	}
	if published.IsZero() {
		return nil, time.Time{}, cmn.ErrMissingTimestamp
	}
	return out.Bytes(), published, nil
}

func scrubAssignmentLine(line string) string {
	tok := line
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		tok = line[:idx]
	}
	b, err := hex.DecodeString(strings.ToLower(tok))
	if err != nil || len(b) != 20 {
		return line
	}
	var fp [20]byte
	copy(fp[:], b)
	hashed := sanitize.HashPoolFingerprint(fp)
	return strings.ToUpper(hex.EncodeToString(hashed[:])) + line[len(tok):]
}
