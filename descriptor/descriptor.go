package descriptor

import "time"

// Descriptor is the opaque typed record every module works with: a
// kind tag, raw bytes, annotation lines, the timestamp facet relevant
// to that kind, and an identity used for content addressing or for
// the (authority, published) dedup key of status documents.
type Descriptor struct {
	Kind        Kind
	Raw         []byte
	Annotations []string

	// Published is the kind-specific semantic time: valid-after for
	// consensuses/votes, published for server/extra-info/pool
	// assignments, downloaded for exit lists, log-date for webstats.
	Published time.Time

	// ReceivedAt is stamped by the caller (module or sync engine) at
	// ingestion time, never derived from the descriptor itself.
	ReceivedAt time.Time

	// Digest is the lowercase content digest for content-addressed
	// kinds (SHA-1 hex for relay/bridge server-descriptor & extra-info,
	// uppercased SHA-1 for vote digests).
	Digest string

	// AuthFingerprint identifies the authority/bridge for vote and
	// status kinds keyed by (authority, published) rather than digest.
	AuthFingerprint string

	// VirtualHost/PhysicalHost are set only for WebstatsAccessLog.
	VirtualHost  string
	PhysicalHost string
}

// HasAnnotation reports whether Raw already begins with an `@type`
// line.
func (d *Descriptor) HasAnnotation() bool {
	return len(d.Raw) > 0 && d.Raw[0] == '@'
}

// Bytes returns the bytes that must hit disk: the kind-default
// annotation prepended when the descriptor didn't carry one.
func (d *Descriptor) Bytes() []byte {
	if d.HasAnnotation() {
		return d.Raw
	}
	ann := d.Kind.Annotation()
	if ann == "" {
		return d.Raw
	}
	out := make([]byte, 0, len(ann)+len(d.Raw))
	out = append(out, ann...)
	out = append(out, d.Raw...)
	return out
}

// Parser is the pluggable per-protocol wire parser boundary. CollecTor
// treats the actual descriptor grammar as an external collaborator;
// this interface is the seam a real parser library plugs into.
type Parser interface {
	// Parse splits a file's raw bytes into zero or more typed
	// descriptors (a single file may batch many, e.g. a
	// server-descriptors dump). A ParseError for one descriptor must
	// not prevent the others in the same file from being returned.
	Parse(raw []byte) ([]*Descriptor, []error)
}
