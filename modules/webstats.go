package modules

import (
	"bufio"
	"bytes"
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/fetch"
	"github.com/tor-collector/collector/fs"
	"github.com/tor-collector/collector/modrunner"
	"github.com/tor-collector/collector/persist"
	"github.com/tor-collector/collector/stats"
)

// Webstats aggregates raw web-server access-log lines into
// per-(date, line) counts, using an explicit fan-out/fan-in worker
// pool in place of a streams-with-collectors idiom. Each configured
// source host's log forms one line batch; the batches are summarized
// concurrently, each into its own {date -> {line -> count}} map, and
// each host's map is re-serialized and handed to the path calculator
// per date bucket.
type Webstats struct {
	Fetcher *fetch.Fetcher
	Writer  *persist.Writer
	Workers int
	Stats   *stats.Registry
}

func NewWebstats(fetcher *fetch.Fetcher, writer *persist.Writer, workers int) *Webstats {
	if workers <= 0 {
		workers = 4
	}
	return &Webstats{Fetcher: fetcher, Writer: writer, Workers: workers}
}

func (m *Webstats) Name() string       { return "Webstats" }
func (m *Webstats) SyncMarker() string { return "Webstats" }

func (m *Webstats) RecentMap() []modrunner.RecentMapEntry {
	return []modrunner.RecentMapEntry{{RelDir: "webstats", Kind: "web-access-log"}}
}

type logBatch struct {
	virtualHost  string
	physicalHost string
	lines        []string
}

// dateCounts maps a calendar day (YYYY-MM-DD) to {line -> occurrence
// count}, the unit each fan-out worker produces for one host's batch.
type dateCounts map[string]map[string]int

func (m *Webstats) RunOnce(ctx context.Context, snap *cmn.Snapshot) error {
	enabled, err := snap.GetBool("WebstatsActivated", false)
	if err != nil || !enabled {
		return err
	}
	limits, err := snap.GetBool("WebstatsLimits", true)
	if err != nil {
		return err
	}
	hosts := snap.GetStringList("WebstatsHosts")

	var batches []logBatch
	for _, host := range hosts {
		parts := strings.SplitN(host, "@", 2)
		virtualHost := parts[0]
		physicalHost := virtualHost
		if len(parts) == 2 {
			physicalHost = parts[1]
		}
		url, uerr := snap.GetURL("WebstatsUrl_" + virtualHost)
		if uerr != nil || url == nil {
			continue
		}
		fetchStart := time.Now()
		body, ferr := m.Fetcher.Fetch(ctx, url.String(), true)
		if m.Stats != nil {
			m.Stats.FetchLatency.WithLabelValues(m.Name()).Observe(time.Since(fetchStart).Seconds())
		}
		if ferr != nil {
			continue
		}
		var lines []string
		sc := bufio.NewScanner(bytes.NewReader(body))
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				lines = append(lines, line)
			}
		}
		batches = append(batches, logBatch{virtualHost: virtualHost, physicalHost: physicalHost, lines: lines})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.Workers)
	perBatch := make([]dateCounts, len(batches))
	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return cmn.ErrShutdownRequested
			default:
			}
			perBatch[i] = summarizeLines(b.lines)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := time.Now().UTC()
	for i, b := range batches {
		merged := perBatch[i]
		if merged == nil {
			continue
		}
		applyWebstatsWindow(merged, limits)
		for date, lineCounts := range merged {
			d, derr := time.Parse("2006-01-02", date)
			if derr != nil {
				continue
			}
			desc := &descriptor.Descriptor{
				Kind:         descriptor.WebstatsAccessLog,
				Raw:          serializeLineCounts(lineCounts),
				Published:    d,
				ReceivedAt:   now,
				VirtualHost:  b.virtualHost,
				PhysicalHost: b.physicalHost,
			}
			paths, perr := fs.ComputePaths(desc, now)
			if perr != nil {
				continue
			}
			if _, _, werr := m.Writer.StoreBoth(paths, desc); werr != nil {
				return werr
			}
		}
	}
	return nil
}

// summarizeLines is the fan-out worker unit: it buckets every line by
// the calendar day parsed from its leading Apache-common-log
// timestamp field and counts duplicate lines within that day.
func summarizeLines(lines []string) dateCounts {
	out := dateCounts{}
	for _, line := range lines {
		date := extractLogDate(line)
		if date == "" {
			continue
		}
		if out[date] == nil {
			out[date] = map[string]int{}
		}
		out[date][line]++
	}
	return out
}

// extractLogDate pulls the `[dd/Mon/yyyy` prefix out of an Apache
// common-log-format line and returns it as `yyyy-mm-dd`, or "" if the
// line isn't recognizable.
func extractLogDate(line string) string {
	start := strings.IndexByte(line, '[')
	if start < 0 || start+12 > len(line) {
		return ""
	}
	field := line[start+1 : start+12] // "dd/Mon/yyyy"
	t, err := time.Parse("02/Jan/2006", field)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// applyWebstatsWindow applies the day-boundary rule: with
// WebstatsLimits=true, the single most recent
// calendar day present in the batch is dropped outright (the log for
// "today" is necessarily incomplete, so it's excluded rather than
// published partial); with WebstatsLimits=false, no day is dropped --
// every day the upstream log covers is published, which is one more
// day than the limited case, at the most recent edge only. No day
// outside the log's own span is ever added.
func applyWebstatsWindow(merged dateCounts, limits bool) {
	if !limits || len(merged) == 0 {
		return
	}
	dates := make([]string, 0, len(merged))
	for d := range merged {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	delete(merged, dates[len(dates)-1])
}

func serializeLineCounts(lineCounts map[string]int) []byte {
	lines := make([]string, 0, len(lineCounts))
	for l := range lineCounts {
		lines = append(lines, l)
	}
	sort.Strings(lines)
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
