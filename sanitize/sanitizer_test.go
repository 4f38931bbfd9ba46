package sanitize_test

import (
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tor-collector/collector/sanitize"
)

var _ = Describe("Sanitizer", func() {
	var (
		store *sanitize.Store
		san   *sanitize.Sanitizer
		now   time.Time
		fp    [20]byte
	)

	BeforeEach(func() {
		var err error
		store, err = sanitize.LoadStore(filepath.Join(os.TempDir(), "collector-secrets-test-nonexistent"))
		Expect(err).NotTo(HaveOccurred())
		san = sanitize.New(store, true, 0)
		now = time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
		for i := range fp {
			fp[i] = byte(i)
		}
	})

	Describe("HashIPv4", func() {
		It("maps into the 10.x.y.z block deterministically for the same secret", func() {
			ip := net.ParseIP("198.51.100.7")
			out1, err := san.HashIPv4(now, now, ip, fp, "t")
			Expect(err).NotTo(HaveOccurred())
			Expect(out1[12]).To(Equal(byte(10)))

			out2, err := san.HashIPv4(now, now, ip, fp, "t")
			Expect(err).NotTo(HaveOccurred())
			Expect(out1.Equal(out2)).To(BeTrue())
		})

		It("returns the literal loopback address when hashing is disabled", func() {
			plain := sanitize.New(store, false, 0)
			out, err := plain.HashIPv4(now, now, net.ParseIP("198.51.100.7"), fp, "t")
			Expect(err).NotTo(HaveOccurred())
			Expect(out.String()).To(Equal("127.0.0.1"))
		})

		It("rejects a non-IPv4 address", func() {
			_, err := san.HashIPv4(now, now, net.ParseIP("2001:db8::1"), fp, "t")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("HashIPv6", func() {
		It("maps into the fd9f:2e19:3bcf:: block", func() {
			out, err := san.HashIPv6(now, now, net.ParseIP("2001:db8::1"), fp, "t")
			Expect(err).NotTo(HaveOccurred())
			Expect(out.String()).To(HavePrefix("fd9f:2e19:3bcf::"))
		})
	})

	Describe("HashPort", func() {
		It("leaves port 0 untouched", func() {
			port, err := san.HashPort(now, now, 0, fp, "t")
			Expect(err).NotTo(HaveOccurred())
			Expect(port).To(Equal(uint16(0)))
		})

		It("maps a nonzero port into the non-well-known range", func() {
			port, err := san.HashPort(now, now, 9001, fp, "t")
			Expect(err).NotTo(HaveOccurred())
			Expect(port & 0xC000).To(Equal(uint16(0xC000)))
		})
	})

	Describe("HashFingerprint", func() {
		It("is deterministic for the same month secret", func() {
			out1, err := san.HashFingerprint(now, now, fp, "t")
			Expect(err).NotTo(HaveOccurred())
			out2, err := san.HashFingerprint(now, now, fp, "t")
			Expect(err).NotTo(HaveOccurred())
			Expect(out1).To(Equal(out2))
		})
	})
})

var _ = Describe("ParseStrictIPv6", func() {
	It("accepts a single zero-compression marker", func() {
		Expect(sanitize.ParseStrictIPv6("2001:db8::1")).NotTo(BeNil())
	})

	It("rejects an address with two zero-compression markers", func() {
		Expect(sanitize.ParseStrictIPv6("2001::db8::1")).To(BeNil())
	})

	It("rejects an IPv4 literal", func() {
		Expect(sanitize.ParseStrictIPv6("198.51.100.7")).To(BeNil())
	})
})

var _ = Describe("Store", func() {
	It("round-trips a generated secret across a reload", func() {
		dir, err := os.MkdirTemp("", "collector-secrets-*")
		Expect(err).NotTo(HaveOccurred())
		path := filepath.Join(dir, "secrets")
		store, err := sanitize.LoadStore(path)
		Expect(err).NotTo(HaveOccurred())

		now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
		secret1, _, err := store.SecretFor(now, now, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(secret1).To(HaveLen(83))

		reloaded, err := sanitize.LoadStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.Corrupt()).To(BeFalse())

		secret2, _, err := reloaded.SecretFor(now, now, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(secret2).To(Equal(secret1))
	})

	It("flags a malformed line as corrupt without erroring", func() {
		dir, err := os.MkdirTemp("", "collector-secrets-*")
		Expect(err).NotTo(HaveOccurred())
		path := filepath.Join(dir, "secrets")
		Expect(os.WriteFile(path, []byte("not-a-valid-line\n"), 0o600)).To(Succeed())

		store, err := sanitize.LoadStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Corrupt()).To(BeTrue())
	})

	It("extends a legacy-length secret only on Finalize", func() {
		dir, err := os.MkdirTemp("", "collector-secrets-*")
		Expect(err).NotTo(HaveOccurred())
		path := filepath.Join(dir, "secrets")
		legacy := make([]byte, 31)
		line := "2026-01," + hexString(legacy) + "\n"
		Expect(os.WriteFile(path, []byte(line), 0o600)).To(Succeed())

		store, err := sanitize.LoadStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Corrupt()).To(BeFalse())

		now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
		secret, _, err := store.SecretFor(now, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(secret).To(HaveLen(31))

		Expect(store.Finalize("2020-01")).To(Succeed())

		reloaded, err := sanitize.LoadStore(path)
		Expect(err).NotTo(HaveOccurred())
		extended, _, err := reloaded.SecretFor(now, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(extended).To(HaveLen(83))
	})
})

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0xF]
	}
	return string(out)
}

var _ = Describe("HashPoolFingerprint", func() {
	It("is a stable, length-preserving surrogate", func() {
		var fp [20]byte
		for i := range fp {
			fp[i] = byte(0x20 + i)
		}
		out1 := sanitize.HashPoolFingerprint(fp)
		out2 := sanitize.HashPoolFingerprint(fp)
		Expect(out1).To(Equal(out2))
		Expect(out1).NotTo(Equal(fp))
		Expect(len(out1)).To(Equal(len(fp)))
	})
})
