package descriptor

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// GenericParser is the default Parser implementation: it splits a
// batched file into records at each `@type` annotation line (or
// treats the whole file as one record when none is present),
// recovers Kind from the annotation token, and extracts the
// `published YYYY-MM-DD HH:MM:SS` field every relay/bridge descriptor
// type carries. It is intentionally forgiving -- the real Tor
// descriptor grammar is an external collaborator this parser only
// approximates closely enough to exercise the persistence and
// indexing paths end to end.
type GenericParser struct {
	// FallbackKind is used for records without a recognizable @type
	// annotation (e.g. a module that knows its own kind out of band).
	FallbackKind Kind
}

func NewGenericParser(fallback Kind) *GenericParser {
	return &GenericParser{FallbackKind: fallback}
}

var annotationToKind = func() map[string]Kind {
	m := make(map[string]Kind, len(annotations))
	for k, ann := range annotations {
		token := strings.TrimPrefix(strings.TrimSuffix(ann, "\n"), "@type ")
		m[token] = k
	}
	return m
}()

func (p *GenericParser) Parse(raw []byte) ([]*Descriptor, []error) {
	records := splitRecords(raw)
	var out []*Descriptor
	var errs []error
	for _, rec := range records {
		d, err := p.parseRecord(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, d)
	}
	return out, errs
}

func (p *GenericParser) parseRecord(rec []byte) (*Descriptor, error) {
	kind := p.FallbackKind
	firstLine, _, _ := bytesCutLine(rec)
	if strings.HasPrefix(firstLine, "@type ") {
		token := strings.TrimSpace(strings.TrimPrefix(firstLine, "@type "))
		if k, ok := annotationToKind[token]; ok {
			kind = k
		}
	}

	// consensuses and votes stamp valid-after, exit lists Downloaded;
	// everything else carries published.
	var ts time.Time
	for _, field := range []string{"published", "valid-after", "Downloaded"} {
		v := extractField(rec, field)
		if v == "" {
			continue
		}
		if t, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
			ts = t
			break
		}
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var fingerprint string
	if fp := extractField(rec, "fingerprint"); fp != "" {
		fingerprint = strings.ReplaceAll(fp, " ", "")
	}

	var digest string
	if kind.ContentAddressed() {
		sum := sha1.Sum(rec)
		digest = hex.EncodeToString(sum[:])
	} else if kind == RelayVote {
		sum := sha1.Sum(voteDigestInput(rec))
		digest = strings.ToUpper(hex.EncodeToString(sum[:]))
	}

	return &Descriptor{
		Kind:            kind,
		Raw:             rec,
		Published:       ts,
		AuthFingerprint: fingerprint,
		Digest:          digest,
	}, nil
}

// voteDigestInput bounds a vote's digest to the bytes from
// `network-status-version ` up to and including the trailing space of
// `directory-signature `. A record missing either token is digested
// whole.
func voteDigestInput(rec []byte) []byte {
	start := bytes.Index(rec, []byte("network-status-version "))
	if start < 0 {
		return rec
	}
	sig := bytes.Index(rec[start:], []byte("directory-signature "))
	if sig < 0 {
		return rec
	}
	end := start + sig + len("directory-signature ")
	return rec[start:end]
}

// splitRecords breaks a batched file into one slice per `@type`
// annotation, preserving the annotation as the first line of each
// record. A file with no annotation at all is returned as a single
// whole-file record.
func splitRecords(raw []byte) [][]byte {
	var starts []int
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	offset := 0
	for sc.Scan() {
		line := sc.Bytes()
		if bytes.HasPrefix(line, []byte("@type ")) {
			starts = append(starts, offset)
		}
		offset += len(line) + 1
	}
	if len(starts) == 0 {
		return [][]byte{raw}
	}
	records := make([][]byte, 0, len(starts))
	for i, s := range starts {
		end := len(raw)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if s < len(raw) && end <= len(raw) {
			records = append(records, raw[s:end])
		}
	}
	return records
}

func bytesCutLine(b []byte) (line string, rest []byte, ok bool) {
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return string(b), nil, false
	}
	return string(b[:idx]), b[idx+1:], true
}

// extractField scans rec for a line `<name> <value...>` and returns
// the value, or "" if absent.
func extractField(rec []byte, name string) string {
	sc := bufio.NewScanner(bytes.NewReader(rec))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	prefix := name + " "
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}
