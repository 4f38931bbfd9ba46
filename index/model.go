// Package index maintains the canonical index.json tree: an
// incremental walk that reuses unchanged FileNodes, a bounded worker
// pool with golang.org/x/sync/singleflight in-flight deduplication for
// the rest, and atomic multi-compression emission. Grounded on
// cmn/jsp's persistence discipline for the atomic write-then-rename
// step, generalized from "one document" to "one document in four
// encodings."
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package index

// FileNode is one leaf entry in the index tree. LastModified uses the
// fixed `YYYY-MM-DD HH:mm` UTC layout; SHA256 is base64-encoded over
// the file's full bytes.
type FileNode struct {
	Path           string     `json:"path"`
	Size           int64      `json:"size"`
	LastModified   string     `json:"last_modified"`
	Types          []string   `json:"types,omitempty"`
	FirstPublished string     `json:"first_published,omitempty"`
	LastPublished  string     `json:"last_published,omitempty"`
	SHA256         string     `json:"sha256"`
}

// DirectoryNode groups files and nested directories. Both Files and
// Directories are kept sorted by Path.
type DirectoryNode struct {
	Path        string           `json:"path"`
	Files       []*FileNode      `json:"files,omitempty"`
	Directories []*DirectoryNode `json:"directories,omitempty"`
}

// Document is the root of index.json.
type Document struct {
	IndexCreated  string           `json:"index_created"`
	Path          string           `json:"path"`
	BuildRevision string           `json:"build_revision,omitempty"`
	Directories   []*DirectoryNode `json:"directories,omitempty"`
}

// TimestampLayout is the fixed UTC layout used for both
// last_modified and first/last_published fields.
const TimestampLayout = "2006-01-02 15:04"
