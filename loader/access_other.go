//go:build !unix

package loader

import (
	"os"

	"github.com/wippyai/modhost/errors"
)

func access(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return errors.InvalidInput(errors.PhaseLoad, path+" is not a regular file")
	}
	return nil
}
