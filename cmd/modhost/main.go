// Command modhost loads modules and calls their exports.
//
//	modhost load game
//	modhost call game add 2 3
//	modhost probe cgame
//	modhost console game
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wippyai/modhost/config"
)

type rootFlags struct {
	configFile string
	ifaceFile  string
	v          *viper.Viper
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{v: config.New()}

	root := &cobra.Command{
		Use:           "modhost",
		Short:         "Load sandboxed and native modules and drive them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "config file (TOML, YAML or JSON)")
	pf.StringVar(&f.ifaceFile, "interface", "", "interface description file; default derives it from the bytecode image")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("home", "", "per-user module root")
	pf.String("lib", "", "install module root")
	pf.String("game", "", "active mod directory")
	pf.String("base", "", "base game directory")
	pf.StringSlice("search", nil, "bytecode search directories")
	pf.String("files", "", "directory module file access is confined to")
	pf.String("cvars", "", "cvar file loaded at startup and archived on exit")
	pf.Bool("native", false, "prefer native libraries over bytecode")

	for key, flag := range map[string]string{
		config.KeyLogLevel:     "log-level",
		config.KeyHomeDir:      "home",
		config.KeyLibDir:       "lib",
		config.KeyGameDir:      "game",
		config.KeyBaseGame:     "base",
		config.KeySearch:       "search",
		config.KeyFileRoot:     "files",
		config.KeyCvarFile:     "cvars",
		config.KeyPreferNative: "native",
	} {
		if err := f.v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		newLoadCmd(f),
		newCallCmd(f),
		newProbeCmd(f),
		newConsoleCmd(f),
	)
	return root
}

func (f *rootFlags) config() (*config.Config, error) {
	if err := config.ReadFile(f.v, f.configFile); err != nil {
		return nil, err
	}
	return config.Decode(f.v)
}
