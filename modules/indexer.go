package modules

import (
	"context"
	"path/filepath"
	"time"

	"github.com/golang/glog"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/index"
	"github.com/tor-collector/collector/modrunner"
)

// Indexer is the module wrapper around index.Builder, scheduled
// alongside every other module rather than run out-of-band.
type Indexer struct {
	IndexPath        string
	HtdocsRecentPath string
	Builder          *index.Builder
}

func NewIndexer(indexPath, htdocsRecentPath string, builder *index.Builder) *Indexer {
	return &Indexer{IndexPath: indexPath, HtdocsRecentPath: htdocsRecentPath, Builder: builder}
}

func (m *Indexer) Name() string       { return "Indexer" }
func (m *Indexer) SyncMarker() string { return "Indexer" }

func (m *Indexer) RecentMap() []modrunner.RecentMapEntry { return nil }

func (m *Indexer) RunOnce(ctx context.Context, snap *cmn.Snapshot) error {
	prev, err := index.Load(filepath.Join(m.IndexPath, "index.json"))
	if err != nil {
		glog.Warningf("index: load previous: %v, rebuilding from scratch", err)
	} else {
		m.Builder.LoadPrevious(prev)
	}

	doc, err := m.Builder.Build(ctx, time.Now())
	if err != nil {
		return cmn.Wrapf(err, "index: build")
	}
	if err := index.Emit(doc, m.IndexPath); err != nil {
		return cmn.Wrapf(err, "index: emit")
	}

	if m.HtdocsRecentPath != "" {
		if _, err := index.PruneDangling(m.HtdocsRecentPath); err != nil {
			glog.Warningf("index: prune dangling links: %v", err)
		}
	}
	return nil
}
