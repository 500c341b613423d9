package filesys

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/wippyai/modhost/errors"
)

func newService(t *testing.T) *Service {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a.txt", "a.txt", true},
		{"dir/a.txt", "dir/a.txt", true},
		{"../../etc/passwd", "etc/passwd", true},
		{"/abs/path", "abs/path", true},
		{`win\style`, "win/style", true},
		{"", "", false},
		{"..", "", false},
		{"a\x00b", "", false},
	}
	for _, tt := range tests {
		got, err := Clean(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("Clean(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestService_WriteReadRoundTrip(t *testing.T) {
	s := newService(t)

	h, _, err := s.Open("saves/slot1.dat", Write)
	if err != nil {
		t.Fatal(err)
	}
	if h != 1 {
		t.Fatalf("first handle = %d, want 1", h)
	}
	if _, err := s.Write(h, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(h, make([]byte, 1)); err == nil {
		t.Fatal("read on write handle should fail")
	}
	if err := s.Close(h); err != nil {
		t.Fatal(err)
	}

	h, _, err = s.Open("saves/slot1.dat", Append)
	if err != nil {
		t.Fatal(err)
	}
	s.Write(h, []byte(" world"))
	s.Close(h)

	h, n, err := s.Open("saves/slot1.dat", Read)
	if err != nil {
		t.Fatal(err)
	}
	if n != 11 {
		t.Fatalf("length = %d, want 11", n)
	}
	buf := make([]byte, 32)
	got, err := s.Read(h, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:got]) != "hello world" {
		t.Fatalf("read %q", buf[:got])
	}
	if pos, err := s.Seek(h, 6, io.SeekStart); err != nil || pos != 6 {
		t.Fatalf("Seek = %d, %v", pos, err)
	}
	got, _ = s.Read(h, buf[:5])
	if string(buf[:got]) != "world" {
		t.Fatalf("after seek read %q", buf[:got])
	}
	if p, ok := s.Path(h); !ok || p != "saves/slot1.dat" {
		t.Fatalf("Path = %q, %v", p, ok)
	}
	if err := s.Close(h); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(h); !errors.HasKind(err, errors.KindNotFound) {
		t.Fatalf("double close err = %v", err)
	}
}

func TestService_PathsStayInRoot(t *testing.T) {
	s := newService(t)
	h, _, err := s.Open("../../escape.txt", Write)
	if err != nil {
		t.Fatal(err)
	}
	s.Close(h)
	if _, err := os.Stat(filepath.Join(s.Dir(), "escape.txt")); err != nil {
		t.Fatalf("file not created inside root: %v", err)
	}
}

func TestService_OpenMissing(t *testing.T) {
	s := newService(t)
	if _, _, err := s.Open("nope.cfg", Read); !errors.HasKind(err, errors.KindIO) {
		t.Fatalf("err = %v", err)
	}
	if s.OpenCount() != 0 {
		t.Fatal("failed open leaked a handle")
	}
}

func TestService_Exhaustion(t *testing.T) {
	s := newService(t)

	handles := make([]Handle, 0, MaxHandles)
	for i := 0; i < MaxHandles; i++ {
		h, _, err := s.Open("f"+strconv.Itoa(i), Write)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		handles = append(handles, h)
	}
	if _, _, err := s.Open("overflow", Write); !errors.HasKind(err, errors.KindCapacity) {
		t.Fatalf("open past capacity err = %v", err)
	}
	if s.OpenCount() != MaxHandles {
		t.Fatalf("OpenCount = %d", s.OpenCount())
	}

	// Freed handles are reused lowest first.
	s.Close(handles[10])
	s.Close(handles[3])
	h, _, err := s.Open("again", Write)
	if err != nil {
		t.Fatal(err)
	}
	if h != handles[3] {
		t.Fatalf("reused handle = %d, want %d", h, handles[3])
	}
}

func TestHandle_Valid(t *testing.T) {
	for _, tt := range []struct {
		h  Handle
		ok bool
	}{{0, false}, {1, true}, {MaxHandles, true}, {MaxHandles + 1, false}} {
		if tt.h.Valid() != tt.ok {
			t.Errorf("Handle(%d).Valid() = %v", tt.h, !tt.ok)
		}
	}
}

func TestSearchPath(t *testing.T) {
	home := t.TempDir()
	base := t.TempDir()
	write := func(dir, rel, data string) {
		p := filepath.Join(dir, rel)
		os.MkdirAll(filepath.Dir(p), 0o755)
		if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(base, "vm/game.wasm", "base")
	write(base, "vm/ui.wasm", "base-ui")
	write(home, "vm/game.wasm", "home")

	sp := SearchPath{home, "", base}
	data, p, err := sp.ReadFile("vm/game.wasm")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "home" || p != filepath.Join(home, "vm", "game.wasm") {
		t.Fatalf("game = %q from %s", data, p)
	}
	if data, _, _ := sp.ReadFile("vm/ui.wasm"); string(data) != "base-ui" {
		t.Fatalf("ui = %q", data)
	}

	_, _, err = sp.ReadFile("vm/cgame.wasm")
	if !errors.IsLoadFault(err) || !errors.HasKind(err, errors.KindNotFound) {
		t.Fatalf("missing image err = %v", err)
	}
	if e, ok := err.(*errors.Error); !ok || len(e.Path) != 2 {
		t.Fatalf("tried paths = %v", err)
	}
}
