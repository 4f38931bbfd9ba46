// Package sanitize implements the bridge-descriptor sanitizer:
// deterministic, monthly-keyed scrubbing of IPs, ports, and
// fingerprints, backed by an append-only secret store. Grounded on
// `cmn/jsp.Save`'s atomic-rewrite discipline for the store file and
// `cmn/shortid`-style tie-breakers for the rewrite's tmp sibling.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package sanitize

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/cmn/cos"
)

// Secret lengths the store must tolerate. 31 and 50 bytes are legacy
// formats found on disk at upgrade time; 83 is the current format
// every newly generated secret uses.
const (
	legacySecretLen31 = 31
	legacySecretLen50 = 50
	currentSecretLen  = 83
)

// monthKeyLayout is the "YYYY-MM" key format the store indexes by.
const monthKeyLayout = "2006-01"

// SecretState is the per-month lifecycle a secret passes through:
// Absent -> Generated -> Persisted -> Live -> Pruned.
type SecretState int

const (
	StateAbsent SecretState = iota
	StateGenerated
	StatePersisted
	StateLive
	StatePruned
)

type monthSecret struct {
	bytes []byte
	state SecretState
}

// Store is the append-only monthly secret file. It is mutated only by
// the sanitizer, which runs within a single module, so no internal
// locking beyond protecting concurrent reads from the same process is
// required; the mutex here guards against the sanitizer's own fan-out
// across descriptors within one run.
type Store struct {
	path    string
	mu      sync.Mutex
	months  map[string]*monthSecret
	corrupt bool
}

// LoadStore reads and validates every line of path. A missing file is
// not an error -- it means no secrets have been generated yet. Any
// malformed line disables scrubbing for the current run and sets
// Corrupt(), but does not return an error: the caller is expected to
// check Corrupt() and proceed best-effort or skip sanitization
// entirely, since a corrupt secret store must never abort the
// process.
func LoadStore(path string) (*Store, error) {
	s := &Store{path: path, months: make(map[string]*monthSecret)}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, cmn.Wrapf(err, "open secrets store %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		month, secret, ok := parseLine(line)
		if !ok {
			glog.Errorf("secrets store %s: malformed line %q, disabling scrubbing for this run", path, line)
			s.corrupt = true
			continue
		}
		s.months[month] = &monthSecret{bytes: secret, state: StateLive}
	}
	if err := sc.Err(); err != nil {
		return nil, cmn.Wrapf(err, "read secrets store %s", path)
	}
	return s, nil
}

// parseLine validates "yyyy-MM,<hex>" against the three legal byte
// lengths: len("yyyy-MM,")=8 plus 62, 100, or 166 hex characters for
// 31-, 50-, or 83-byte secrets.
func parseLine(line string) (month string, secret []byte, ok bool) {
	idx := strings.IndexByte(line, ',')
	if idx != 7 { // "yyyy-MM" is exactly 7 chars
		return "", nil, false
	}
	month = line[:idx]
	if _, err := time.Parse(monthKeyLayout, month); err != nil {
		return "", nil, false
	}
	hexPart := line[idx+1:]
	switch len(hexPart) {
	case legacySecretLen31 * 2, legacySecretLen50 * 2, currentSecretLen * 2:
	default:
		return "", nil, false
	}
	b, err := hex.DecodeString(hexPart)
	if err != nil {
		return "", nil, false
	}
	return month, b, true
}

// Corrupt reports whether LoadStore found a malformed line.
func (s *Store) Corrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corrupt
}

// SecretFor returns the month secret for t, generating one lazily on
// first use. If the month is within retentionHorizon of now, the new
// secret is appended to disk before
// being returned (Generated -> Persisted); otherwise it is used
// in-memory only and a warning is logged.
//
// Legacy (31/50-byte) secrets already on disk are tolerated and
// returned as-is -- read-only -- rather than silently re-keyed;
// extension to the current 83-byte format happens only when Finalize
// rewrites the store (see extendIfLegacy).
func (s *Store) SecretFor(now, t time.Time, retentionHorizon time.Duration) ([]byte, SecretState, error) {
	month := t.UTC().Format(monthKeyLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ms, ok := s.months[month]; ok {
		return ms.bytes, StateLive, nil
	}

	secret := make([]byte, currentSecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, StateAbsent, cmn.Wrapf(err, "generate secret for %s", month)
	}
	ms := &monthSecret{bytes: secret, state: StateGenerated}

	withinHorizon := retentionHorizon <= 0 || now.Sub(t) <= retentionHorizon
	if withinHorizon {
		if err := s.appendLine(month, secret); err != nil {
			return nil, StateAbsent, err
		}
		ms.state = StatePersisted
	} else {
		glog.Warningf("secrets store %s: month %s outside retention horizon, using in-memory secret only", s.path, month)
	}
	s.months[month] = ms
	return ms.bytes, ms.state, nil
}

func (s *Store) appendLine(month string, secret []byte) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return cmn.Wrapf(err, "append secrets store %s", s.path)
	}
	defer f.Close()
	line := fmt.Sprintf("%s,%s\n", month, hex.EncodeToString(secret))
	if _, err := f.WriteString(line); err != nil {
		return cmn.Wrapf(err, "append secrets store %s", s.path)
	}
	return f.Sync()
}

// Finalize rewrites the file to exclude months before cutoff (Live ->
// Pruned), and extends any retained
// legacy-length secret to the current 83-byte format by appending
// fresh random bytes -- a one-time migration rather than a silent
// re-keying of the whole secret.
func (s *Store) Finalize(cutoffMonth string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]string, 0, len(s.months))
	for month, ms := range s.months {
		if month < cutoffMonth {
			ms.state = StatePruned
			delete(s.months, month)
			continue
		}
		if len(ms.bytes) < currentSecretLen {
			extra := make([]byte, currentSecretLen-len(ms.bytes))
			if _, err := rand.Read(extra); err != nil {
				return cmn.Wrapf(err, "extend legacy secret for %s", month)
			}
			ms.bytes = append(append([]byte{}, ms.bytes...), extra...)
		}
		kept = append(kept, month)
	}
	sort.Strings(kept)

	tmp := s.path + ".tmp." + cos.GenTie()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return cmn.Wrapf(err, "rewrite secrets store %s", s.path)
	}
	for _, month := range kept {
		line := fmt.Sprintf("%s,%s\n", month, hex.EncodeToString(s.months[month].bytes))
		if _, err := f.WriteString(line); err != nil {
			f.Close()
			return cmn.Wrapf(err, "rewrite secrets store %s", s.path)
		}
	}
	if err := cos.FlushClose(f); err != nil {
		return cmn.Wrapf(err, "rewrite secrets store %s", s.path)
	}
	return os.Rename(tmp, s.path)
}

// Stats reports months held, for the stats registry's secrets-held
// gauge.
func (s *Store) Stats() (held int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.months)
}
