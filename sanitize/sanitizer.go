package sanitize

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/golang/glog"

	"github.com/tor-collector/collector/cmn"
)

// Sanitizer applies the deterministic IP/port/fingerprint
// replacements, reading monthly secrets from a Store. HashIPs toggles
// the `ReplaceIpAddressesWithHashes` configuration key: when false,
// every IPv4 collapses to the literal 127.0.0.1 rather than being
// hashed.
type Sanitizer struct {
	Store             *Store
	HashIPs           bool
	RetentionHorizon  time.Duration // 0 == unlimited
	LoggedStaleOnce   map[string]bool
}

func New(store *Store, hashIPs bool, retentionHorizon time.Duration) *Sanitizer {
	return &Sanitizer{Store: store, HashIPs: hashIPs, RetentionHorizon: retentionHorizon, LoggedStaleOnce: make(map[string]bool)}
}

// secretFor fetches the month secret for published, logging once per
// run when published is older than the cutoff: descriptors older than
// the cutoff are still sanitized best-effort, just noted once.
func (s *Sanitizer) secretFor(now, published time.Time, runTag string) ([]byte, error) {
	cutoff := now.Add(-s.RetentionHorizon)
	if s.RetentionHorizon > 0 && published.Before(cutoff) {
		key := runTag + "|" + published.Format("2006-01")
		if !s.LoggedStaleOnce[key] {
			glog.Warningf("sanitizer: %s published %s is before retention cutoff %s, sanitizing best-effort", runTag, published, cutoff)
			s.LoggedStaleOnce[key] = true
		}
	}
	secret, _, err := s.Store.SecretFor(now, published, s.RetentionHorizon)
	return secret, err
}

// HashIPv4 maps an IPv4 address into the 10.x.y.z block via SHA-256
// over a 55-byte input {4B ipv4, 20B fingerprint, 31B monthly-secret
// prefix}. When HashIPs is false the literal 127.0.0.1 is returned
// instead, and no secret is consulted.
func (s *Sanitizer) HashIPv4(now, published time.Time, ip net.IP, fingerprint [20]byte, runTag string) (net.IP, error) {
	if !s.HashIPs {
		return net.IPv4(127, 0, 0, 1), nil
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%w: not an IPv4 address: %s", cmn.ErrMissingDigest, ip)
	}
	secret, err := s.secretFor(now, published, runTag)
	if err != nil {
		return nil, err
	}
	if len(secret) < 31 {
		return nil, fmt.Errorf("secret too short for IPv4 hashing: %d bytes", len(secret))
	}
	h := sha256.New()
	h.Write(ip4)
	h.Write(fingerprint[:])
	h.Write(secret[:31])
	sum := h.Sum(nil)
	return net.IPv4(10, sum[0], sum[1], sum[2]), nil
}

// HashIPv6 maps an IPv6 address into the fd9f:2e19:3bcf::X:Y block via
// SHA-256 over {16B ipv6, 20B fingerprint, 19B suffix of the monthly
// secret}. It takes an already-parsed address; literals with more than
// one "::" group are rejected upstream by ParseStrictIPv6, not here.
func (s *Sanitizer) HashIPv6(now, published time.Time, ip net.IP, fingerprint [20]byte, runTag string) (net.IP, error) {
	ip16 := ip.To16()
	if ip16 == nil || ip.To4() != nil {
		return nil, fmt.Errorf("%w: not an IPv6 address: %s", cmn.ErrMissingDigest, ip)
	}
	secret, err := s.secretFor(now, published, runTag)
	if err != nil {
		return nil, err
	}
	if len(secret) < 19 {
		return nil, fmt.Errorf("secret too short for IPv6 hashing: %d bytes", len(secret))
	}
	suffix := secret[len(secret)-19:]
	h := sha256.New()
	h.Write(ip16)
	h.Write(fingerprint[:])
	h.Write(suffix)
	sum := h.Sum(nil)
	x := binary.BigEndian.Uint16(sum[0:2])
	y := binary.BigEndian.Uint16(sum[2:4])
	return net.ParseIP(fmt.Sprintf("fd9f:2e19:3bcf::%x:%x", x, y)), nil
}

// HashPort maps a port number: 0 stays 0; other ports map into the
// non-well-known range via SHA-256 of {2B port, 20B fingerprint, 33B
// suffix of the monthly secret}.
func (s *Sanitizer) HashPort(now, published time.Time, port uint16, fingerprint [20]byte, runTag string) (uint16, error) {
	if port == 0 {
		return 0, nil
	}
	secret, err := s.secretFor(now, published, runTag)
	if err != nil {
		return 0, err
	}
	if len(secret) < 33 {
		return 0, fmt.Errorf("secret too short for port hashing: %d bytes", len(secret))
	}
	suffix := secret[len(secret)-33:]
	var portBytes [2]byte
	binary.BigEndian.PutUint16(portBytes[:], port)
	h := sha256.New()
	h.Write(portBytes[:])
	h.Write(fingerprint[:])
	h.Write(suffix)
	sum := h.Sum(nil)
	v := (uint32(sum[0])<<8 | uint32(sum[1])) >> 2
	return uint16(v) | 0xC000, nil
}

// HashFingerprint replaces a bridge descriptor's router fingerprint,
// keyed the same way as the IP/port hashes (fingerprint plus a
// monthly-secret slice), so the surrogate fingerprint is itself a
// deterministic function of (month-secret, relay-fingerprint).
func (s *Sanitizer) HashFingerprint(now, published time.Time, fingerprint [20]byte, runTag string) ([20]byte, error) {
	secret, err := s.secretFor(now, published, runTag)
	if err != nil {
		return [20]byte{}, err
	}
	if len(secret) < 35 {
		return [20]byte{}, fmt.Errorf("secret too short for fingerprint hashing: %d bytes", len(secret))
	}
	h := sha1.New()
	h.Write(fingerprint[:])
	h.Write(secret[:35])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// HashPoolFingerprint replaces a pool-assignment router fingerprint
// with the SHA-1 of its binary form. Pool assignment lines key every
// entry by fingerprint alone, so the surrogate is unkeyed (the same
// length as the input) and stable across months.
func HashPoolFingerprint(fingerprint [20]byte) [20]byte {
	return sha1.Sum(fingerprint[:])
}
