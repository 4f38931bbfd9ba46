// Package cos (common OS) provides the small set of filesystem
// primitives every higher package in CollecTor builds atomic
// writes on top of: create-new file handles, flush-close-rename, and
// short tie-breaker suffixes for concurrent `.tmp` siblings. Grounded
// on `cmn/jsp/file.go` (Save/Load use exactly this tmp-then-rename
// shape) and `cmn/shortid.go` (GenTie).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"io"
	"os"
	"path/filepath"

	"github.com/teris-io/shortid"
)

const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var sid = shortid.MustNew(1, uuidABC, 1)

// GenTie returns a short, process-unique suffix used to disambiguate
// concurrent `.tmp` siblings, generated via the shortid alphabet/library
// rather than a hand-rolled counter.
func GenTie() string {
	id, err := sid.Generate()
	if err != nil {
		// shortid's generator only errs on worker/seed misconfiguration,
		// which MustNew already validated at package init.
		panic(err)
	}
	return id
}

// CreateNew opens path for exclusive creation: an existing file at
// path is an error, never silently replaced. Callers use this for
// archive writes and content-addressed recent writes.
func CreateNew(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// FlushClose fsyncs then closes f, matching jsp.Save's discipline of
// never renaming a tmp file into place until its bytes are durably on
// disk.
func FlushClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// CopyFile copies src to dst, creating dst's parent directories.
func CopyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return FlushClose(out)
}

// RemoveFile removes path, tolerating its absence.
func RemoveFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
