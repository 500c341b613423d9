// Package filesys is the host file service modules reach through traps.
//
// Module-supplied paths are resolved inside a root directory with os.Root, so
// "../" and absolute paths cannot escape it. Open files live in a fixed-size
// handle table shared by all modules; per-module ownership is tracked by the
// ledger.
package filesys

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wippyai/modhost/errors"
)

// Mode selects how a file is opened.
type Mode int32

const (
	Read Mode = iota
	Write
	Append
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case Append:
		return "append"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// Service opens files below one writable root.
type Service struct {
	root    *os.Root
	handles *handleTable
	dir     string
}

// New opens the service root, creating the directory if needed.
func New(dir string) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "create file root "+dir)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "open file root "+dir)
	}
	return &Service{root: root, handles: newHandleTable(), dir: dir}, nil
}

// Dir returns the service root directory.
func (s *Service) Dir() string { return s.dir }

// Clean validates a module path and returns it in slash form relative to
// the root.
func Clean(p string) (string, error) {
	if p == "" || strings.ContainsRune(p, 0) {
		return "", errors.InvalidInput(errors.PhaseRuntime, "invalid file path")
	}
	p = strings.ReplaceAll(p, "\\", "/")
	c := path.Clean("/" + p)[1:]
	if c == "" || c == "." {
		return "", errors.InvalidInput(errors.PhaseRuntime, "invalid file path "+p)
	}
	return c, nil
}

// Open opens p with mode. For Read it also returns the file length.
func (s *Service) Open(p string, mode Mode) (Handle, int64, error) {
	rel, err := Clean(p)
	if err != nil {
		return 0, 0, err
	}

	var f *os.File
	switch mode {
	case Read:
		f, err = s.root.Open(filepath.FromSlash(rel))
	case Write, Append:
		if dir := path.Dir(rel); dir != "." {
			if err := s.root.MkdirAll(filepath.FromSlash(dir), 0o755); err != nil {
				return 0, 0, ioError("create directory for "+rel, err)
			}
		}
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if mode == Append {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		f, err = s.root.OpenFile(filepath.FromSlash(rel), flags, 0o644)
	default:
		return 0, 0, errors.InvalidInput(errors.PhaseRuntime, "unknown file mode")
	}
	if err != nil {
		return 0, 0, ioError("open "+rel, err)
	}

	var length int64
	if mode == Read {
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return 0, 0, ioError("stat "+rel, err)
		}
		length = st.Size()
	}

	h, ok := s.handles.insert(entry{file: f, path: rel, mode: mode})
	if !ok {
		f.Close()
		return 0, 0, errors.New(errors.PhaseRuntime, errors.KindCapacity).
			Symbol(rel).
			Detail("all %d file handles in use", MaxHandles).
			Build()
	}
	return h, length, nil
}

func (s *Service) file(h Handle) (entry, error) {
	e, ok := s.handles.get(h)
	if !ok {
		return entry{}, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Value(h).Detail("file handle %d is not open", h).Build()
	}
	return e, nil
}

// Read reads into buf, returning a short count at end of file.
func (s *Service) Read(h Handle, buf []byte) (int, error) {
	e, err := s.file(h)
	if err != nil {
		return 0, err
	}
	if e.mode != Read {
		return 0, errors.InvalidInput(errors.PhaseRuntime, "handle not open for reading")
	}
	n, err := io.ReadFull(e.file, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	if err != nil {
		return n, ioError("read "+e.path, err)
	}
	return n, nil
}

// Write writes buf.
func (s *Service) Write(h Handle, buf []byte) (int, error) {
	e, err := s.file(h)
	if err != nil {
		return 0, err
	}
	if e.mode == Read {
		return 0, errors.InvalidInput(errors.PhaseRuntime, "handle not open for writing")
	}
	n, err := e.file.Write(buf)
	if err != nil {
		return n, ioError("write "+e.path, err)
	}
	return n, nil
}

// Seek moves the file offset.
func (s *Service) Seek(h Handle, offset int64, whence int) (int64, error) {
	e, err := s.file(h)
	if err != nil {
		return 0, err
	}
	pos, err := e.file.Seek(offset, whence)
	if err != nil {
		return 0, ioError("seek "+e.path, err)
	}
	return pos, nil
}

// Close closes h and frees the handle. The handle is freed even when the
// underlying close fails.
func (s *Service) Close(h Handle) error {
	e, ok := s.handles.remove(h)
	if !ok {
		return errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Value(h).Detail("file handle %d is not open", h).Build()
	}
	if err := e.file.Close(); err != nil {
		return ioError("close "+e.path, err)
	}
	return nil
}

// Path returns the root-relative path of an open handle.
func (s *Service) Path(h Handle) (string, bool) {
	e, ok := s.handles.get(h)
	return e.path, ok
}

// OpenCount returns the number of open handles.
func (s *Service) OpenCount() int { return s.handles.len() }

// Shutdown closes every open handle and the root.
func (s *Service) Shutdown() error {
	var first error
	s.handles.each(func(h Handle, _ entry) {
		if err := s.Close(h); err != nil && first == nil {
			first = err
		}
	})
	if err := s.root.Close(); err != nil && first == nil {
		first = ioError("close root", err)
	}
	return first
}

func ioError(detail string, err error) error {
	return errors.Wrap(errors.PhaseRuntime, errors.KindIO, err, detail)
}
