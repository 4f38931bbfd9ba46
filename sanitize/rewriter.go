package sanitize

import (
	"net"
	"strings"
	"time"
)

// Fields is the subset of a bridge descriptor's parsed content the
// sanitizer needs: the relay's own fingerprint (the hashing key for
// every other sensitive field) and its address/port pairs. Extraction
// of these from raw bytes is the pluggable wire-parser's job -- the
// per-protocol descriptor grammar is an external collaborator; this
// package only ever consumes the extracted values.
type Fields struct {
	Fingerprint [20]byte
	Addresses   []AddrPort
}

// AddrPort is one sensitive address/port pair found in a bridge
// descriptor (the relay's ORAddress, ORPort, DirPort, or an ORAddress
// line's IPv6 form).
type AddrPort struct {
	IP   string // dotted-quad or bracketed/unbracketed IPv6 literal
	Port uint16
}

// Rewriter is the pluggable seam between the wire parser and the
// sanitizer: given a raw descriptor and its extracted Fields, it
// returns the sanitized replacement for each sensitive token so the
// caller can substitute them back into the byte stream, preserving
// every other byte verbatim -- byte-for-byte identical to unsanitized
// input except for the scrubbed fields.
type Rewriter interface {
	// Extract pulls the sensitive fields out of a raw bridge
	// descriptor.
	Extract(raw []byte) (Fields, error)
	// Substitute replaces every occurrence of the original sensitive
	// tokens in raw with their sanitized counterparts, returning the
	// rewritten bytes.
	Substitute(raw []byte, original Fields, sanitizedAddrs []AddrPort, sanitizedFingerprint [20]byte) ([]byte, error)
}

// RewriteBridge runs the full scrub for one descriptor: extract
// fields, hash every address/port/fingerprint, substitute them back
// into the byte stream.
func (s *Sanitizer) RewriteBridge(rw Rewriter, raw []byte, now, published time.Time, runTag string) ([]byte, error) {
	fields, err := rw.Extract(raw)
	if err != nil {
		return nil, err
	}

	sanitizedAddrs := make([]AddrPort, len(fields.Addresses))
	for i, a := range fields.Addresses {
		sanitizedAddrs[i], err = s.sanitizeAddrPort(now, published, a, fields.Fingerprint, runTag)
		if err != nil {
			return nil, err
		}
	}

	sanitizedFP, err := s.HashFingerprint(now, published, fields.Fingerprint, runTag)
	if err != nil {
		return nil, err
	}

	return rw.Substitute(raw, fields, sanitizedAddrs, sanitizedFP)
}

func (s *Sanitizer) sanitizeAddrPort(now, published time.Time, a AddrPort, fp [20]byte, runTag string) (AddrPort, error) {
	raw := strings.Trim(a.IP, "[]")
	var sanitizedIP string
	if ip4 := net.ParseIP(raw).To4(); ip4 != nil {
		out, err := s.HashIPv4(now, published, ip4, fp, runTag)
		if err != nil {
			return AddrPort{}, err
		}
		sanitizedIP = out.String()
	} else {
		ip6 := ParseStrictIPv6(raw)
		if ip6 == nil {
			return AddrPort{}, nil
		}
		out, err := s.HashIPv6(now, published, ip6, fp, runTag)
		if err != nil {
			return AddrPort{}, err
		}
		if out == nil {
			return AddrPort{}, nil
		}
		sanitizedIP = "[" + out.String() + "]"
	}
	port, err := s.HashPort(now, published, a.Port, fp, runTag)
	if err != nil {
		return AddrPort{}, err
	}
	return AddrPort{IP: sanitizedIP, Port: port}, nil
}
