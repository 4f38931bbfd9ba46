package descriptor

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/tor-collector/collector/sanitize"
)

// GenericRewriter implements sanitize.Rewriter against the handful of
// descriptor lines that actually carry sensitive fields: `fingerprint`,
// `router`, `or-address`, and `bridge-distribution-request`'s address
// lines. Like GenericParser, it approximates the real grammar closely
// enough to exercise the sanitizer end to end without depending on a
// full Tor descriptor library.
type GenericRewriter struct{}

func (GenericRewriter) Extract(raw []byte) (sanitize.Fields, error) {
	var fields sanitize.Fields

	if fp := extractField(raw, "fingerprint"); fp != "" {
		clean := strings.ReplaceAll(fp, " ", "")
		b, err := hex.DecodeString(clean)
		if err == nil && len(b) == 20 {
			copy(fields.Fingerprint[:], b)
		}
	}

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "router "):
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				if port, err := strconv.Atoi(parts[3]); err == nil {
					fields.Addresses = append(fields.Addresses, sanitize.AddrPort{IP: parts[2], Port: uint16(port)})
				}
			}
		case strings.HasPrefix(line, "or-address "):
			val := strings.TrimPrefix(line, "or-address ")
			idx := strings.LastIndex(val, ":")
			if idx > 0 {
				ip := val[:idx]
				if port, err := strconv.Atoi(val[idx+1:]); err == nil {
					fields.Addresses = append(fields.Addresses, sanitize.AddrPort{IP: ip, Port: uint16(port)})
				}
			}
		}
	}
	return fields, nil
}

func (GenericRewriter) Substitute(raw []byte, original sanitize.Fields, sanitizedAddrs []sanitize.AddrPort, sanitizedFingerprint [20]byte) ([]byte, error) {
	out := raw
	for i, addr := range original.Addresses {
		if i >= len(sanitizedAddrs) || sanitizedAddrs[i].IP == "" {
			continue
		}
		oldPort := strconv.Itoa(int(addr.Port))
		newPort := strconv.Itoa(int(sanitizedAddrs[i].Port))
		// or-address lines join the pair with ':', router lines with a
		// space; both forms must be rewritten.
		out = bytes.ReplaceAll(out,
			[]byte(addr.IP+":"+oldPort), []byte(sanitizedAddrs[i].IP+":"+newPort))
		out = bytes.ReplaceAll(out,
			[]byte(addr.IP+" "+oldPort), []byte(sanitizedAddrs[i].IP+" "+newPort))
	}

	var zero [20]byte
	if original.Fingerprint != zero {
		oldHex := strings.ToUpper(hex.EncodeToString(original.Fingerprint[:]))
		newHex := strings.ToUpper(hex.EncodeToString(sanitizedFingerprint[:]))
		out = bytes.ReplaceAll(out, []byte(oldHex), []byte(newHex))
	}
	return out, nil
}
