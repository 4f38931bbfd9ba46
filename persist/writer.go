// Package persist is the persistence writer: atomic create-new/append
// writes with kind-default annotation prefixing, grounded on
// `cmn/jsp.Save`'s tmp-then-rename discipline (cmn/jsp/file.go)
// generalized from "one JSON document" to "one descriptor's raw
// bytes."
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package persist

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/cmn/cos"
	"github.com/tor-collector/collector/descriptor"
	"github.com/tor-collector/collector/fs"
)

// Result is a sum type used in place of exception-for-control-flow:
// Written, AlreadyPresent, or an error.
type Result int

const (
	Written Result = iota
	AlreadyPresentResult
)

// Writer owns the archive and recent tree roots.
type Writer struct {
	ArchiveRoot string
	RecentRoot  string
}

func New(archiveRoot, recentRoot string) *Writer {
	return &Writer{ArchiveRoot: archiveRoot, RecentRoot: recentRoot}
}

// StoreArchive is a create-new write: if the destination exists, it
// returns AlreadyPresent without touching anything.
func (w *Writer) StoreArchive(rel string, d *descriptor.Descriptor) (Result, error) {
	path := filepath.Join(w.ArchiveRoot, rel)
	if cos.Exists(path) {
		return AlreadyPresentResult, nil
	}
	f, err := cos.CreateNew(path)
	if err != nil {
		if os.IsExist(err) {
			return AlreadyPresentResult, nil
		}
		return 0, cmn.Wrapf(err, "store archive %s", rel)
	}
	if _, err := f.Write(d.Bytes()); err != nil {
		f.Close()
		cos.RemoveFile(path)
		return 0, cmn.Wrapf(err, "store archive %s", rel)
	}
	if err := cos.FlushClose(f); err != nil {
		return 0, cmn.Wrapf(err, "store archive %s", rel)
	}
	return Written, nil
}

// StoreRecent writes to the rolling recent tree. Append-oriented kinds
// copy any pre-existing target to a `.tmp` sibling first, append the
// new bytes to the copy, then leave the rename to PromoteTemporaries
// so concurrent readers of the canonical name never observe a partial
// write. Content-addressed kinds use a plain atomic create.
func (w *Writer) StoreRecent(rel string, d *descriptor.Descriptor) (Result, error) {
	path := filepath.Join(w.RecentRoot, rel)
	if !d.Kind.Append() {
		if cos.Exists(path) {
			return AlreadyPresentResult, nil
		}
		f, err := cos.CreateNew(path)
		if err != nil {
			if os.IsExist(err) {
				return AlreadyPresentResult, nil
			}
			return 0, cmn.Wrapf(err, "store recent %s", rel)
		}
		if _, err := f.Write(d.Bytes()); err != nil {
			f.Close()
			cos.RemoveFile(path)
			return 0, cmn.Wrapf(err, "store recent %s", rel)
		}
		if err := cos.FlushClose(f); err != nil {
			return 0, cmn.Wrapf(err, "store recent %s", rel)
		}
		return Written, nil
	}
	return Written, w.appendViaTmp(path, d.Bytes())
}

func (w *Writer) appendViaTmp(path string, payload []byte) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return cmn.Wrapf(err, "mkdir for %s", path)
	}
	// One deterministic sibling per recent path: successive appends
	// within a run land in the same tmp file, so a batched kind
	// concatenates instead of scattering across per-write temporaries.
	// The first append seeds the copy from any already-promoted target.
	if !cos.Exists(tmp) && cos.Exists(path) {
		if err := cos.CopyFile(tmp, path); err != nil {
			return cmn.Wrapf(err, "copy %s to tmp", path)
		}
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return cmn.Wrapf(err, "open tmp %s", tmp)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return cmn.Wrapf(err, "append tmp %s", tmp)
	}
	if err := cos.FlushClose(f); err != nil {
		return cmn.Wrapf(err, "close tmp %s", tmp)
	}
	return nil
}

// StoreBoth writes archive first; recent is attempted only when
// archive reports Written, since archive is the source of truth for
// "have we seen this before."
func (w *Writer) StoreBoth(paths fs.Paths, d *descriptor.Descriptor) (archiveResult, recentResult Result, err error) {
	archiveResult, err = w.StoreArchive(paths.Archive, d)
	if err != nil {
		return
	}
	if archiveResult != Written {
		if glog.V(3) {
			glog.Infof("already present, skipping recent: %s", paths.Archive)
		}
		return
	}
	recentResult, err = w.StoreRecent(paths.Recent, d)
	return
}

// PromoteTemporaries walks root and renames every `*.tmp` sibling to
// its stripped name, deleting any pre-existing target first, so a
// crash between append-to-tmp and rename never wedges the recent
// tree. Exposed as its own scheduled step, the Finalizer module.
func PromoteTemporaries(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		final, ok := stripTmpSuffix(path)
		if !ok {
			return nil
		}
		if cos.Exists(final) {
			if rmErr := cos.RemoveFile(final); rmErr != nil {
				return cmn.Wrapf(rmErr, "promote: remove stale %s", final)
			}
		}
		if err := os.Rename(path, final); err != nil {
			return cmn.Wrapf(err, "promote: rename %s", path)
		}
		return nil
	})
}

func stripTmpSuffix(path string) (string, bool) {
	base := filepath.Base(path)
	if base == ".tmp" || !strings.HasSuffix(base, ".tmp") {
		return "", false
	}
	return filepath.Join(filepath.Dir(path), strings.TrimSuffix(base, ".tmp")), true
}
