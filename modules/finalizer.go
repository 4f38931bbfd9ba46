package modules

import (
	"context"
	"time"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/modrunner"
	"github.com/tor-collector/collector/persist"
	"github.com/tor-collector/collector/retention"
)

// Finalizer promotes append-oriented recent-tree `.tmp` writes to
// their final names and sweeps both trees for expired files every
// tick: a crash between append-to-tmp and rename must not wedge the
// recent tree forever, so promotion runs as its own scheduled step
// rather than only inline after a write.
type Finalizer struct {
	Writer *persist.Writer
	Policy retention.Policy
}

func NewFinalizer(writer *persist.Writer, policy retention.Policy) *Finalizer {
	return &Finalizer{Writer: writer, Policy: policy}
}

func (m *Finalizer) Name() string       { return "Finalizer" }
func (m *Finalizer) SyncMarker() string { return "Finalizer" }

func (m *Finalizer) RecentMap() []modrunner.RecentMapEntry { return nil }

func (m *Finalizer) RunOnce(ctx context.Context, snap *cmn.Snapshot) error {
	if err := persist.PromoteTemporaries(m.Writer.RecentRoot); err != nil {
		return cmn.Wrapf(err, "finalizer: promote recent")
	}
	if err := persist.PromoteTemporaries(m.Writer.ArchiveRoot); err != nil {
		return cmn.Wrapf(err, "finalizer: promote archive")
	}

	now := time.Now().UTC()
	if _, err := retention.CleanOlderThan(m.Writer.RecentRoot, now.Add(-m.Policy.Recent)); err != nil {
		return cmn.Wrapf(err, "finalizer: clean recent")
	}
	if _, err := retention.CleanOlderThan(m.Writer.ArchiveRoot, now.Add(-m.Policy.Archive)); err != nil {
		return cmn.Wrapf(err, "finalizer: clean archive")
	}
	return nil
}
