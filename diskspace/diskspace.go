// Package diskspace implements the pre-flight free-space check the
// module runner performs before every module run: disk-full below a
// configurable threshold is logged as a warning before each module
// starts, no action taken. Grounded on dfc/checkfs.go, which statfs's
// every mountpath and compares against configured watermarks;
// generalized here to x/sys/unix.Statfs so a single code path covers
// every platform, instead of splitting across
// ios/dutils_linux.go and ios/fsutils_darwin.go.
/*
 * Copyright (c) 2017, NVIDIA CORPORATION. All rights reserved.
 */
package diskspace

import (
	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// DefaultCriticalBytes is the free-space warning threshold.
const DefaultCriticalBytes = 200 * 1024 * 1024 // 200 MiB

// FreeBytes returns the free space available to an unprivileged
// writer on the filesystem containing path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// CheckCritical logs a warning and reports whether free space on
// path's filesystem is below thresholdBytes. No action is taken
// beyond the warning.
func CheckCritical(path string, thresholdBytes uint64) (critical bool, free uint64, err error) {
	free, err = FreeBytes(path)
	if err != nil {
		return false, 0, err
	}
	critical = free < thresholdBytes
	if critical {
		glog.Warningf("diskspace: %s has only %d bytes free (threshold %d)", path, free, thresholdBytes)
	}
	return critical, free, nil
}
