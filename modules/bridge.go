package modules

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/golang/glog"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/fetch"
	"github.com/tor-collector/collector/fs"
	"github.com/tor-collector/collector/modrunner"
	"github.com/tor-collector/collector/persist"
	"github.com/tor-collector/collector/sanitize"
	"github.com/tor-collector/collector/stats"
)

// Bridge fetches bridge server descriptors from the bridge authority
// and scrubs them before they ever touch disk. A malformed or corrupt
// secret store means nothing this run can be trusted as sanitized, so
// the whole batch is skipped (logged once) rather than aborting the
// module or persisting unsanitized descriptors.
type Bridge struct {
	Fetcher   *fetch.Fetcher
	Writer    *persist.Writer
	Sanitizer *sanitize.Sanitizer
	Rewriter  sanitize.Rewriter
	Parser    descriptor.Parser
	Stats     *stats.Registry
}

func NewBridge(fetcher *fetch.Fetcher, writer *persist.Writer, sanitizer *sanitize.Sanitizer, rewriter sanitize.Rewriter, parser descriptor.Parser) *Bridge {
	return &Bridge{Fetcher: fetcher, Writer: writer, Sanitizer: sanitizer, Rewriter: rewriter, Parser: parser}
}

func (m *Bridge) Name() string       { return "Bridgedescs" }
func (m *Bridge) SyncMarker() string { return "Bridgedescs" }

func (m *Bridge) RecentMap() []modrunner.RecentMapEntry {
	return []modrunner.RecentMapEntry{
		{RelDir: "bridge-descriptors/server-descriptors", Kind: "bridge-server-descriptor"},
		{RelDir: "bridge-descriptors/extra-infos", Kind: "bridge-extra-info"},
	}
}

func (m *Bridge) RunOnce(ctx context.Context, snap *cmn.Snapshot) error {
	sources, err := snap.GetSources("BridgedescsSources")
	if err != nil {
		return err
	}
	if !sources.Has(cmn.SourceLocal) && !sources.Has(cmn.SourceCache) {
		return nil
	}
	dirURL, err := snap.GetURL("BridgeAuthorityUrl")
	if err != nil {
		return err
	}
	if dirURL == nil {
		return nil
	}
	hashIPs, err := snap.GetBool("ReplaceIpAddressesWithHashes", true)
	if err != nil {
		return err
	}
	m.Sanitizer.HashIPs = hashIPs

	now := time.Now().UTC()
	start := time.Now()
	body, err := m.Fetcher.Fetch(ctx, dirURL.String(), true)
	if m.Stats != nil {
		m.Stats.FetchLatency.WithLabelValues(m.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return cmn.Wrapf(err, "bridgedescs: fetch")
	}

	if m.Sanitizer.Store.Corrupt() {
		// A corrupt secret store means RewriteBridge cannot be trusted
		// to scrub anything; publishing unsanitized bridge descriptors
		// would be a direct breach of the sanitizer's whole purpose, so
		// the entire batch is dropped rather than written through
		// unscrubbed. The store itself is left untouched -- no
		// Finalize -- since nothing here was determined to be safe.
		glog.Errorf("bridgedescs: %v, skipping this run's descriptors entirely rather than publishing unsanitized bytes", cmn.ErrSecretsCorrupt)
		return nil
	}

	descs, perrs := m.Parser.Parse(body)
	if len(perrs) > 0 {
		glog.Warningf("bridgedescs: skipping %d malformed descriptor(s), first: %v", len(perrs), perrs[0])
	}

	for _, d := range descs {
		d.ReceivedAt = now
		runTag := d.Kind.String()

		sanitized, serr := m.Sanitizer.RewriteBridge(m.Rewriter, d.Raw, now, d.Published, runTag)
		if serr != nil {
			continue
		}
		d.Raw = sanitized
		// the content address must key the bytes that actually land on
		// disk, not the pre-scrub input.
		if d.Kind.ContentAddressed() {
			sum := sha1.Sum(sanitized)
			d.Digest = hex.EncodeToString(sum[:])
		}

		paths, perr := fs.ComputePaths(d, now)
		if perr != nil {
			continue
		}
		if _, _, werr := m.Writer.StoreBoth(paths, d); werr != nil {
			return werr
		}
	}

	// Prune only months that fell out of the configured mappings
	// window; an unlimited horizon keeps every month (empty cutoff
	// sorts before any "YYYY-MM" key).
	cutoff := ""
	if m.Sanitizer.RetentionHorizon > 0 {
		cutoff = now.Add(-m.Sanitizer.RetentionHorizon).Format("2006-01")
	}
	if err := m.Sanitizer.Store.Finalize(cutoff); err != nil {
		return err
	}
	if m.Stats != nil {
		(*m.Stats.SecretsHeld).Set(float64(m.Sanitizer.Store.Stats()))
	}
	return nil
}
