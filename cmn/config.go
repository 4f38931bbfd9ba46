package cmn

import (
	"bufio"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
)

// SourceType is one of the four places a module may be told to pull
// descriptors from, set via a module's `<Marker>Sources` key.
type SourceType string

const (
	SourceCache  SourceType = "Cache"
	SourceLocal  SourceType = "Local"
	SourceRemote SourceType = "Remote"
	SourceSync   SourceType = "Sync"
)

// SourceSet is the parsed value of a `<Marker>Sources` key.
type SourceSet map[SourceType]struct{}

func (s SourceSet) Has(t SourceType) bool { _, ok := s[t]; return ok }

// OnlySync reports whether Sync is the sole configured source, which
// the module runner uses to skip native processing entirely.
func (s SourceSet) OnlySync() bool {
	return len(s) == 1 && s.Has(SourceSync)
}

// Snapshot is the immutable configuration view a module reads at the
// start of runOnce: a reload produces a fresh Snapshot rather than
// mutating the one a module is mid-run with. Mutating a Snapshot after
// it is published is a programming error.
type Snapshot struct {
	path     string
	modTime  time.Time
	kv       map[string]string
	accessed map[string]bool // which keys have been validated, for first-read validation
	mu       sync.Mutex
}

// Port is the typed accessor over a Snapshot plus the optional
// hot-reload watch. Listeners receive the new snapshot only on their
// next module tick -- the Port never swaps the pointer a module is
// mid-read on.
type Port struct {
	cur  atomic.Value // *Snapshot
	path string
}

// Load parses a key/value properties file -- one `Key=Value`
// assignment per non-blank, non-`#`-prefixed line -- into a Port ready
// for typed access. Validation is lazy: GetX functions validate the
// specific key on first read and return *ConfigError on failure.
func Load(path string) (*Port, error) {
	snap, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	p := &Port{path: path}
	p.cur.Store(snap)
	return p, nil
}

func parseFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Field: path, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &ConfigError{Field: path, Err: err}
	}

	kv := make(map[string]string)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, &ConfigError{Field: path, Err: fmt.Errorf("line %d: missing '='", lineNo)}
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		kv[key] = val
	}
	if err := sc.Err(); err != nil {
		return nil, &ConfigError{Field: path, Err: err}
	}
	return &Snapshot{path: path, modTime: fi.ModTime(), kv: kv, accessed: make(map[string]bool)}, nil
}

// Snapshot returns the currently published configuration view.
func (p *Port) Snapshot() *Snapshot { return p.cur.Load().(*Snapshot) }

// Watch starts an fsnotify watch on the config file's directory:
// aistore's config lives in a hot-reloadable file too, but polls
// ModTime; this uses a real filesystem event stream instead. Each
// successfully parsed reload is published as the current Snapshot
// right away and also sent on the returned channel; the send is
// dropped when the channel's single slot is still full.
func (p *Port) Watch(stop <-chan struct{}) (<-chan *Snapshot, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(p.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	out := make(chan *Snapshot, 1)
	go func() {
		defer w.Close()
		defer close(out)
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				snap, err := parseFile(p.path)
				if err != nil {
					glog.Errorf("config reload %s failed: %v", p.path, err)
					continue
				}
				p.cur.Store(snap)
				select {
				case out <- snap:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				glog.Errorf("config watch %s: %v", p.path, err)
			}
		}
	}()
	return out, nil
}

func (s *Snapshot) mark(key string) {
	s.mu.Lock()
	s.accessed[key] = true
	s.mu.Unlock()
}

// GetString returns the raw string value, or def if unset.
func (s *Snapshot) GetString(key, def string) string {
	s.mark(key)
	if v, ok := s.kv[key]; ok {
		return v
	}
	return def
}

// GetStringList parses a comma-separated string-list key.
func (s *Snapshot) GetStringList(key string) []string {
	s.mark(key)
	v, ok := s.kv[key]
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetPath resolves a path key relative to the config file's directory
// when it isn't already absolute.
func (s *Snapshot) GetPath(key, def string) (string, error) {
	s.mark(key)
	v, ok := s.kv[key]
	if !ok {
		v = def
	}
	if v == "" {
		return "", &ConfigError{Field: key, Err: fmt.Errorf("path not set")}
	}
	if filepath.IsAbs(v) {
		return v, nil
	}
	return filepath.Join(filepath.Dir(s.path), v), nil
}

// GetURL validates and returns a single URL key.
func (s *Snapshot) GetURL(key string) (*url.URL, error) {
	s.mark(key)
	v, ok := s.kv[key]
	if !ok || v == "" {
		return nil, nil
	}
	u, err := url.Parse(v)
	if err != nil {
		return nil, &ConfigError{Field: key, Err: err}
	}
	return u, nil
}

// GetURLList validates and returns a comma-separated URL-list key.
func (s *Snapshot) GetURLList(key string) ([]*url.URL, error) {
	s.mark(key)
	var out []*url.URL
	for _, raw := range s.GetStringList(key) {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, &ConfigError{Field: key, Err: err}
		}
		out = append(out, u)
	}
	return out, nil
}

// GetBool parses a boolean key ("true"/"false"), defaulting to def
// when unset.
func (s *Snapshot) GetBool(key string, def bool) (bool, error) {
	s.mark(key)
	v, ok := s.kv[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ConfigError{Field: key, Err: err}
	}
	return b, nil
}

// MaxInt is the sentinel value an `inf` integer key (for example
// `BridgeDescriptorMappingsLimit`) resolves to.
const MaxInt = math.MaxInt32

// GetInt parses an integer key; the literal string "inf" resolves to
// MaxInt.
func (s *Snapshot) GetInt(key string, def int) (int, error) {
	s.mark(key)
	v, ok := s.kv[key]
	if !ok || v == "" {
		return def, nil
	}
	if v == "inf" {
		return MaxInt, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Field: key, Err: err}
	}
	return n, nil
}

// GetLong parses a 64-bit integer key; "inf" resolves to MaxInt64.
func (s *Snapshot) GetLong(key string, def int64) (int64, error) {
	s.mark(key)
	v, ok := s.kv[key]
	if !ok || v == "" {
		return def, nil
	}
	if v == "inf" {
		return math.MaxInt64, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &ConfigError{Field: key, Err: err}
	}
	return n, nil
}

// GetSources parses a `<Marker>Sources` key into a SourceSet, validating
// every element is one of {Cache, Local, Remote, Sync}.
func (s *Snapshot) GetSources(key string) (SourceSet, error) {
	out := make(SourceSet)
	for _, raw := range s.GetStringList(key) {
		t := SourceType(raw)
		switch t {
		case SourceCache, SourceLocal, SourceRemote, SourceSync:
			out[t] = struct{}{}
		default:
			return nil, &ConfigError{Field: key, Err: fmt.Errorf("unknown source %q", raw)}
		}
	}
	return out, nil
}

// ModuleEnabled reads `<Module>Activated`.
func (s *Snapshot) ModuleEnabled(module string) (bool, error) {
	return s.GetBool(module+"Activated", false)
}

// ModuleSchedule reads `<Module>OffsetMinutes` / `<Module>PeriodMinutes`.
func (s *Snapshot) ModuleSchedule(module string) (offset, period int, err error) {
	offset, err = s.GetInt(module+"OffsetMinutes", 0)
	if err != nil {
		return
	}
	period, err = s.GetInt(module+"PeriodMinutes", 60)
	return
}
