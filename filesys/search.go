package filesys

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wippyai/modhost/errors"
)

// SearchPath is an ordered list of directories searched for read-only
// content such as bytecode images. Earlier entries shadow later ones.
type SearchPath []string

// Locate returns the host path of the first directory containing rel.
func (sp SearchPath) Locate(rel string) (string, error) {
	clean, err := Clean(rel)
	if err != nil {
		return "", err
	}
	tried := make([]string, 0, len(sp))
	for _, dir := range sp {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, filepath.FromSlash(clean))
		tried = append(tried, p)
		st, err := os.Stat(p)
		if err == nil && st.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", errors.New(errors.PhaseLoad, errors.KindNotFound).
		Symbol(clean).
		Path(tried...).
		Detail("%s not found in %d search directories", clean, len(tried)).
		Cause(fs.ErrNotExist).
		Build()
}

// ReadFile returns the contents of the first match for rel and the host
// path it was read from.
func (sp SearchPath) ReadFile(rel string) ([]byte, string, error) {
	p, err := sp.Locate(rel)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, p, errors.New(errors.PhaseLoad, errors.KindIO).
			Symbol(rel).Path(p).Cause(err).Detail("read failed").Build()
	}
	return data, p, nil
}
