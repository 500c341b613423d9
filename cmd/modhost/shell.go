package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/wippyai/modhost/cvar"
	"github.com/wippyai/modhost/module"
)

const shellHelp = `commands:
  call <export> [args...]   call an export
  set <cvar> <value>        set a host variable
  get <cvar>                show a host variable
  cvars                     list host variables
  files                     list files the module holds open
  restart                   unload and load the module again
  quit                      leave`

// outputBuffer collects module prints between console commands.
type outputBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Drain returns and clears what was written.
func (b *outputBuffer) Drain() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	b.buf.Reset()
	return s
}

// shell executes console commands against one loaded module.
type shell struct {
	host   *host
	inst   *module.Instance
	prints *outputBuffer
}

// errQuit ends a console session.
var errQuit = fmt.Errorf("quit")

// exec runs one command line and returns its output. A pending cvar file
// reload is applied first.
func (s *shell) exec(ctx context.Context, line string) (string, error) {
	s.host.reloadCvars()
	words := strings.Fields(line)
	if len(words) == 0 {
		return "", nil
	}
	out, err := s.dispatch(ctx, words[0], words[1:])
	if p := s.prints.Drain(); p != "" {
		out = strings.TrimRight(p, "\n") + "\n" + out
	}
	return strings.TrimRight(out, "\n"), err
}

func (s *shell) dispatch(ctx context.Context, cmd string, args []string) (string, error) {
	switch cmd {
	case "quit", "exit":
		return "", errQuit
	case "help", "?":
		return shellHelp, nil
	case "call":
		if len(args) == 0 {
			return "", fmt.Errorf("usage: call <export> [args...]")
		}
		return call(ctx, s.inst, args[0], args[1:])
	case "set":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: set <cvar> <value>")
		}
		if err := s.host.cvars.Set(args[0], strings.Join(args[1:], " ")); err != nil {
			return "", err
		}
		return s.get(args[0])
	case "get":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: get <cvar>")
		}
		return s.get(args[0])
	case "cvars":
		var b strings.Builder
		for _, v := range s.host.cvars.All() {
			b.WriteString(cvar.Describe(v))
			b.WriteByte('\n')
		}
		return b.String(), nil
	case "files":
		return s.files(), nil
	case "restart":
		inst, err := s.host.loader.Restart(ctx, s.inst)
		if err != nil {
			return "", err
		}
		s.inst = inst
		return fmt.Sprintf("%s restarted (%s)", inst.Name(), inst.Backend().Kind()), nil
	}
	return "", fmt.Errorf("unknown command %q, try help", cmd)
}

func (s *shell) get(name string) (string, error) {
	v := s.host.cvars.Get(name)
	if v == nil {
		return "", fmt.Errorf("no cvar %q", name)
	}
	return cvar.Describe(v), nil
}

func (s *shell) files() string {
	handles := s.inst.Ledger().OpenFiles()
	if len(handles) == 0 {
		return "no open files"
	}
	var b strings.Builder
	for _, h := range handles {
		p, _ := s.host.files.Path(h)
		fmt.Fprintf(&b, "%3d  %s\n", h, p)
	}
	return b.String()
}

// repl reads commands line by line; used when stdin is not a terminal.
func (s *shell) repl(ctx context.Context, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		res, err := s.exec(ctx, sc.Text())
		if res != "" {
			fmt.Fprintln(out, res)
		}
		if err == errQuit {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return sc.Err()
}
