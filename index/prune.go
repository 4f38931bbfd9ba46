package index

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/cmn/cos"
)

// danglingMarkerFile records, across runs, which publish-mirror
// symlinks under htdocs/recent/ were found dangling on some prior
// pass. A link must be observed dangling on two consecutive passes
// (gone for at least one full index run) before it is removed -- a
// link whose target reappears between passes is never deleted.
const danglingMarkerFile = ".dangling-links"

// PruneDangling walks htdocsRecentDir for symlinks, and removes any
// symlink that was already marked dangling on the previous call and
// is still dangling now. Newly-dangling links are recorded but not
// yet removed.
func PruneDangling(htdocsRecentDir string) (removed int, err error) {
	markerPath := filepath.Join(htdocsRecentDir, danglingMarkerFile)
	prevMarked, err := loadMarked(markerPath)
	if err != nil {
		return 0, err
	}

	nowMarked := map[string]bool{}
	entries, err := os.ReadDir(htdocsRecentDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, cmn.Wrapf(err, "prune: read %s", htdocsRecentDir)
	}

	for _, ent := range entries {
		if ent.Name() == danglingMarkerFile {
			continue
		}
		full := filepath.Join(htdocsRecentDir, ent.Name())
		info, lerr := os.Lstat(full)
		if lerr != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		if _, statErr := os.Stat(full); statErr == nil {
			continue // target still resolves, not dangling
		}

		if prevMarked[ent.Name()] {
			if rmErr := os.Remove(full); rmErr != nil {
				glog.Warningf("prune: remove %s: %v", full, rmErr)
				nowMarked[ent.Name()] = true // retry next pass
				continue
			}
			removed++
			continue
		}
		nowMarked[ent.Name()] = true
	}

	return removed, saveMarked(markerPath, nowMarked)
}

func loadMarked(path string) (map[string]bool, error) {
	marked := map[string]bool{}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return marked, nil
	}
	if err != nil {
		return nil, cmn.Wrapf(err, "prune: open marker %s", path)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			marked[line] = true
		}
	}
	return marked, sc.Err()
}

func saveMarked(path string, marked map[string]bool) error {
	tmp := path + ".tmp." + cos.GenTie()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return cmn.Wrapf(err, "prune: create marker %s", tmp)
	}
	w := bufio.NewWriter(f)
	for name := range marked {
		if _, err := w.WriteString(name + "\n"); err != nil {
			f.Close()
			return cmn.Wrapf(err, "prune: write marker %s", tmp)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return cmn.Wrapf(err, "prune: flush marker %s", tmp)
	}
	if err := cos.FlushClose(f); err != nil {
		return cmn.Wrapf(err, "prune: close marker %s", tmp)
	}
	return os.Rename(tmp, path)
}
