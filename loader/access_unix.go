//go:build unix

package loader

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/wippyai/modhost/errors"
)

// access reports whether path is a regular file the process may read and
// execute.
func access(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return errors.InvalidInput(errors.PhaseLoad, path+" is not a regular file")
	}
	return unix.Access(path, unix.R_OK|unix.X_OK)
}
