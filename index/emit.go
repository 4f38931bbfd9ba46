package index

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/tor-collector/collector/cmn"
	"github.com/tor-collector/collector/cmn/cos"
)

// Emit writes index.json and its three compressed siblings
// atomically: each is written to a `.tmp.<tie>` file in the same
// directory and renamed into place only once fully flushed (spec
// §4.I point 5).
func Emit(doc *Document, dir string) error {
	payload, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(doc)
	if err != nil {
		return cmn.Wrapf(err, "index: marshal")
	}

	if err := writeAtomic(filepath.Join(dir, "index.json"), payload); err != nil {
		return err
	}
	if err := writeCompressed(filepath.Join(dir, "index.json.gz"), payload, gzipEncode); err != nil {
		return err
	}
	if err := writeCompressed(filepath.Join(dir, "index.json.xz"), payload, xzEncode); err != nil {
		return err
	}
	if err := writeCompressed(filepath.Join(dir, "index.json.bz2"), payload, bzip2Encode); err != nil {
		return err
	}
	return nil
}

func writeAtomic(path string, payload []byte) error {
	tmp := path + ".tmp." + cos.GenTie()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return cmn.Wrapf(err, "index: create %s", tmp)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return cmn.Wrapf(err, "index: write %s", tmp)
	}
	if err := cos.FlushClose(f); err != nil {
		return cmn.Wrapf(err, "index: close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return cmn.Wrapf(err, "index: rename %s", tmp)
	}
	return nil
}

func writeCompressed(path string, payload []byte, encode func([]byte) ([]byte, error)) error {
	encoded, err := encode(payload)
	if err != nil {
		return cmn.Wrapf(err, "index: encode %s", path)
	}
	return writeAtomic(path, encoded)
}

func gzipEncode(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func xzEncode(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func bzip2Encode(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
