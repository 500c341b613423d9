package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/cvar"
	"github.com/wippyai/modhost/errors"
	"github.com/wippyai/modhost/loader"
	"github.com/wippyai/modhost/module"
	"github.com/wippyai/modhost/value"
)

func withHost(cmd *cobra.Command, f *rootFlags, out io.Writer, fn func(ctx context.Context, h *host) error) (err error) {
	cfg, err := f.config()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := newHost(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.close(ctx); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, h)
}

func newLoadCmd(f *rootFlags) *cobra.Command {
	var initExport string
	cmd := &cobra.Command{
		Use:   "load <name>",
		Short: "Load a module and report its backend and exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withHost(cmd, f, out, func(ctx context.Context, h *host) error {
				inst, err := h.load(ctx, args[0], f.ifaceFile)
				if err != nil {
					return err
				}
				describe(out, inst)
				if initExport != "" {
					if _, ok := inst.Interface().Export(initExport); ok {
						if _, err := inst.Call(ctx, initExport); err != nil {
							return err
						}
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&initExport, "init", "init", "export to call after loading, if declared")
	return cmd
}

func newCallCmd(f *rootFlags) *cobra.Command {
	var before []string
	cmd := &cobra.Command{
		Use:   "call <name> <export> [args...]",
		Short: "Load a module and call one export",
		Long: "Arguments are converted to the export's parameter types.\n" +
			"A tagged form such as u32:5 or f64:1.5 is taken as is.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withHost(cmd, f, out, func(ctx context.Context, h *host) error {
				inst, err := h.load(ctx, args[0], f.ifaceFile)
				if err != nil {
					return err
				}
				for _, exp := range before {
					if _, err := inst.Call(ctx, exp); err != nil {
						return err
					}
				}
				res, err := call(ctx, inst, args[1], args[2:])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, res)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&before, "before", nil, "exports to call first, without arguments")
	return cmd
}

func newProbeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <name>",
		Short: "List where a module would be looked for, in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			lc := cfg.Loader()
			if !lc.PreferNative {
				for _, dir := range lc.Search {
					fmt.Fprintf(out, "bytecode  %s/%s\n", dir, loader.ImagePath(args[0]))
				}
			}
			// a loader without an engine only needs to compute paths
			lc.PreferNative = true
			l, err := loader.New(loader.Options{Config: lc, Cvars: cvar.NewRegistry(), Registry: module.NewRegistry(nil)})
			if err != nil {
				return err
			}
			for _, p := range l.Probe(args[0]) {
				fmt.Fprintf(out, "native    %s\n", p)
			}
			return nil
		},
	}
}

func newConsoleCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "console <name>",
		Short: "Load a module and drive it interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf := &outputBuffer{}
			return withHost(cmd, f, buf, func(ctx context.Context, h *host) error {
				inst, err := h.load(ctx, args[0], f.ifaceFile)
				if err != nil {
					return err
				}
				sh := &shell{host: h, inst: inst, prints: buf}
				if term.IsTerminal(int(os.Stdin.Fd())) {
					return runConsole(ctx, sh)
				}
				return sh.repl(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

func describe(w io.Writer, inst *module.Instance) {
	fmt.Fprintf(w, "module    %s (%s)\n", inst.Name(), inst.Backend().Kind())
	if nb, ok := inst.Backend().(*module.Native); ok {
		fmt.Fprintf(w, "library   %s\n", nb.Path)
	}
	for _, e := range inst.Interface().Exports {
		fmt.Fprintf(w, "export    %-20s %s\n", e.Name, e.Signature.Mask)
	}
}

func call(ctx context.Context, inst *module.Instance, export string, raw []string) (string, error) {
	d, ok := inst.Interface().Export(export)
	if !ok {
		return "", errors.New(errors.PhaseRuntime, errors.KindMissingExport).
			Module(inst.Name()).Symbol(export).Build()
	}
	args, err := parseArgs(d.Signature, raw)
	if err != nil {
		return "", err
	}
	res, err := inst.Call(ctx, export, args...)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(res))
	for k, v := range res {
		parts[k] = v.String()
	}
	if len(parts) == 0 {
		return "ok", nil
	}
	return strings.Join(parts, " "), nil
}

// parseArgs converts command-line words to the export's parameter tags.
func parseArgs(sig abi.Signature, raw []string) ([]value.Value, error) {
	if len(raw) != len(sig.Params) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("%s takes %d arguments, got %d", sig.Mask, len(sig.Params), len(raw)).Build()
	}
	out := make([]value.Value, len(raw))
	for k, s := range raw {
		v, err := parseArg(sig.Params[k], s)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "argument "+s)
		}
		out[k] = v
	}
	return out, nil
}

func parseArg(tag value.Tag, s string) (value.Value, error) {
	if strings.Contains(s, ":") {
		return value.Parse(s)
	}
	switch tag {
	case value.TagI32:
		n, err := cast.ToInt32E(s)
		return value.I32(n), err
	case value.TagU32:
		n, err := cast.ToUint32E(s)
		return value.U32(n), err
	case value.TagI64:
		n, err := cast.ToInt64E(s)
		return value.I64(n), err
	case value.TagU64:
		n, err := cast.ToUint64E(s)
		return value.U64(n), err
	case value.TagF32:
		n, err := cast.ToFloat32E(s)
		return value.F32(n), err
	case value.TagF64:
		n, err := cast.ToFloat64E(s)
		return value.F64(n), err
	}
	return value.Value{}, errors.TypeMismatch(errors.PhaseRuntime, "a value tag", tag.String())
}
