// Package retention implements the retention cleaner: recursively
// delete regular files older than a cutoff, leaving directories in
// place. Grounded on the disk-sweep shape in dfc/checkfs.go (walk
// every mountpath, stat, evict), generalized from "evict to a low
// watermark" to "evict everything before a cutoff" and using
// karrick/godirwalk instead of filepath.Walk for the large
// recent/archive trees.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package retention

import (
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/karrick/godirwalk"

	"github.com/tor-collector/collector/cmn"
)

// CleanOlderThan walks root and deletes every regular file whose mtime
// precedes cutoff. It never removes directories: they are cheap to
// leave in place and a future write just recreates what's missing.
func CleanOlderThan(root string, cutoff time.Time) (deleted int, err error) {
	if _, statErr := os.Stat(root); os.IsNotExist(statErr) {
		return 0, nil
	}
	walkErr := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			fi, statErr := os.Lstat(path)
			if statErr != nil {
				return nil
			}
			if !fi.Mode().IsRegular() {
				return nil
			}
			if fi.ModTime().Before(cutoff) {
				if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
					glog.Warningf("retention: failed to remove %s: %v", path, rmErr)
					return nil
				}
				deleted++
			}
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			glog.Warningf("retention: walk error at %s: %v", path, err)
			return godirwalk.SkipNode
		},
	})
	if walkErr != nil {
		return deleted, cmn.Wrapf(walkErr, "retention sweep of %s", root)
	}
	if glog.V(2) {
		glog.Infof("retention: swept %s, deleted %d files older than %s", root, deleted, cutoff.UTC().Format(time.RFC3339))
	}
	return deleted, nil
}

// Policy names the two standard retention windows: the rolling
// "recent" window and the longer archive staging window.
type Policy struct {
	Recent  time.Duration
	Archive time.Duration
}

// DefaultPolicy holds the typical values: recent 72h, archive staging
// 49 days.
var DefaultPolicy = Policy{
	Recent:  72 * time.Hour,
	Archive: 49 * 24 * time.Hour,
}
