package index

import (
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/tor-collector/collector/cmn"
)

// Load reads a previously emitted index.json, tolerating its absence
// on the very first run.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, cmn.Wrapf(err, "index: read %s", path)
	}
	var doc Document
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, &doc); err != nil {
		return nil, cmn.Wrapf(err, "index: decode %s", path)
	}
	return &doc, nil
}
