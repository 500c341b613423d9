package cvar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wippyai/modhost/errors"
)

// LoadFile reads a TOML, YAML or JSON file of name = value pairs and sets
// each one through the registry, so loaded values propagate like any other
// change. Nested tables are flattened with '.' separators.
func LoadFile(reg *Registry, path string) (int, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return 0, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "read cvar file "+path)
	}

	keys := v.AllKeys()
	sort.Strings(keys)

	applied := 0
	var firstErr error
	for _, k := range keys {
		val, err := cast.ToStringE(v.Get(k))
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "cvar "+k)
			}
			continue
		}
		if err := reg.Set(k, val); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied++
	}
	return applied, firstErr
}

// ArchiveFile merges every Archive variable into path and writes it back
// in the format its extension names. Keys already in the file that no
// archived variable overrides are kept.
func ArchiveFile(reg *Registry, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "read cvar archive "+path)
		}
	}
	for _, cv := range reg.All() {
		if cv.Flags&Archive == 0 || cv.Flags&Temp != 0 {
			continue
		}
		v.Set(cv.Name, cv.String)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "create archive directory")
	}
	// the temporary name keeps the extension so viper picks the same codec
	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err := v.WriteConfigAs(tmp); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "write cvar archive "+path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "replace cvar archive")
	}
	return nil
}

const watchDebounce = 100 * time.Millisecond

// Watch reports changes to path on the returned channel until ctx is done.
// It never touches a registry: the receiver reloads the file with LoadFile
// on the goroutine that drives its modules. Bursts of events coalesce into
// one pending signal. The containing directory is watched so editors that
// replace the file are handled.
func Watch(ctx context.Context, path string, log *zap.Logger) (<-chan struct{}, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "resolve "+path)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "create watcher")
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "watch "+filepath.Dir(abs))
	}

	changed := make(chan struct{}, 1)
	go func() {
		defer fsw.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					timer.Reset(watchDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				select {
				case changed <- struct{}{}:
					log.Debug("cvar file changed", zap.String("path", abs))
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warn("cvar file watcher", zap.Error(err))
			}
		}
	}()
	return changed, nil
}

// Describe renders one variable for listings.
func Describe(v *Var) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %q", v.Name, v.String)
	if v.latched {
		fmt.Fprintf(&b, " latched=%q", v.LatchedString)
	}
	if v.ResetString != v.String {
		fmt.Fprintf(&b, " default=%q", v.ResetString)
	}
	fmt.Fprintf(&b, " [%s]", v.Flags)
	return b.String()
}
