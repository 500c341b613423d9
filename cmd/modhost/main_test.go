package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/config"
	"github.com/wippyai/modhost/cvar"
	mherrors "github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/internal/fixture"
	"github.com/wippyai/modhost/value"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		mask string
		args []string
		want []value.Value
		err  bool
	}{
		{"i:ii", []string{"2", "-3"}, []value.Value{value.I32(2), value.I32(-3)}, false},
		{"v:uU", []string{"0x10", "7"}, []value.Value{value.U32(16), value.U64(7)}, false},
		{"F:fF", []string{"1.5", "f64:2"}, []value.Value{value.F32(1.5), value.F64(2)}, false},
		{"i:p", []string{"256"}, []value.Value{value.U32(256)}, false},
		{"i:i", []string{"u32:1"}, []value.Value{value.U32(1)}, false},
		{"i:ii", []string{"1"}, nil, true},
		{"i:i", []string{"many"}, nil, true},
	}
	for _, tt := range tests {
		got, err := parseArgs(abi.MustSignature(tt.mask), tt.args)
		if tt.err {
			if !mherrors.HasKind(err, mherrors.KindInvalidInput) {
				t.Errorf("%s %v: err = %v", tt.mask, tt.args, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s %v: %v", tt.mask, tt.args, err)
			continue
		}
		for k := range tt.want {
			if got[k] != tt.want[k] {
				t.Errorf("%s %v: arg %d = %s, want %s", tt.mask, tt.args, k, got[k], tt.want[k])
			}
		}
	}
}

func TestReadInterface(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cgame.toml")
	data := `
name = "cgame"
api_version = 3
entry = "CGameEntry"

[exports]
shutdown = "v:"
drawActiveFrame = "v:i"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	iface, err := readInterface(path)
	if err != nil {
		t.Fatal(err)
	}
	if iface.Name != "cgame" || iface.APIVersion != 3 || iface.Entry() != "CGameEntry" {
		t.Errorf("iface = %+v", iface)
	}
	if len(iface.Exports) != 2 || iface.Exports[0].Name != "drawActiveFrame" || iface.Exports[0].Signature.Mask != "v:i" {
		t.Errorf("exports = %+v", iface.Exports)
	}

	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("name = \"x\"\n[exports]\nf = \"q:\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readInterface(bad); err == nil {
		t.Error("bad mask accepted")
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	vm := filepath.Join(home, "base", "vm")
	if err := os.MkdirAll(vm, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(vm, "game.wasm"), fixture.Game(), 0o644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		HomeDir:  home,
		LibDir:   t.TempDir(),
		BaseGame: "base",
		CvarFile: filepath.Join(home, "base", "cvars.toml"),
		LogLevel: "error",
	}
}

func TestShellSession(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	prints := &outputBuffer{}
	h, err := newHost(ctx, cfg, prints)
	if err != nil {
		t.Fatal(err)
	}
	inst, err := h.load(ctx, "game", "")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Backend().Kind() != "bytecode" {
		t.Fatalf("backend = %s", inst.Backend().Kind())
	}

	sh := &shell{host: h, inst: inst, prints: prints}
	script := strings.Join([]string{
		"call init",
		"get foo",
		"set foo 3",
		"call fooInteger",
		"call add 40 2",
		"call openLog",
		"files",
		"restart",
		"files",
		"bogus",
		"quit",
		"call add 1 1",
	}, "\n")
	var out bytes.Buffer
	if err := sh.repl(ctx, strings.NewReader(script), &out); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	for _, want := range []string{
		fmt.Sprintf("%-24s %q", "foo", "1"),
		"i32:3",
		"i32:42",
		"game.log",
		"game restarted (bytecode)",
		"no open files",
		`unknown command "bogus"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("session output lacks %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "i32:2\n") {
		t.Error("commands after quit ran")
	}

	if err := h.close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.CvarFile); err != nil {
		t.Errorf("cvar archive not written: %v", err)
	}
}

func TestProbeCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"probe", "cgame", "--home", "/h", "--lib", "/l", "--game", "m", "--base", "base"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	var native []string
	for _, l := range lines {
		if strings.HasPrefix(l, "native") {
			native = append(native, strings.TrimSpace(strings.TrimPrefix(l, "native")))
		}
	}
	if len(native) != 4 || !strings.HasPrefix(native[0], filepath.Join("/h", "m", "cgame_")) ||
		!strings.HasPrefix(native[3], filepath.Join("/l", "base", "cgame_")) {
		t.Errorf("probe output:\n%s", out.String())
	}
}

func TestShellAppliesCvarReload(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	h, err := newHost(ctx, cfg, &outputBuffer{})
	if err != nil {
		t.Fatal(err)
	}
	defer h.close(ctx)
	inst, err := h.load(ctx, "game", "")
	if err != nil {
		t.Fatal(err)
	}
	reloads := make(chan struct{}, 1)
	h.reloads = reloads
	sh := &shell{host: h, inst: inst, prints: &outputBuffer{}}

	if err := os.WriteFile(cfg.CvarFile, []byte("sensitivity = \"5\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := sh.exec(ctx, "get sensitivity"); err == nil {
		t.Fatal("file applied before the change was signalled")
	}
	reloads <- struct{}{}
	out, err := sh.exec(ctx, "get sensitivity")
	if err != nil || !strings.Contains(out, `"5"`) {
		t.Fatalf("get sensitivity = %q, %v", out, err)
	}
}

func TestCloseKeepsUserCvars(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.CvarFile = filepath.Join(cfg.HomeDir, "base", "cvars.yaml")
	if err := os.WriteFile(cfg.CvarFile, []byte("sensitivity: 5\nname: player\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := newHost(ctx, cfg, &outputBuffer{})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.close(ctx); err != nil {
		t.Fatal(err)
	}

	again := cvar.NewRegistry()
	n, err := cvar.LoadFile(again, cfg.CvarFile)
	if err != nil || n != 2 {
		t.Fatalf("reload = %d, %v", n, err)
	}
	if v := again.Get("name"); v == nil || v.String != "player" {
		t.Errorf("name = %+v", v)
	}
}
