// Package indexer drives the external full-text indexer binary and the
// deferred reindex pipeline around it.
//
// The relational stores are the source of truth; a full-text index is rebuilt
// wholesale from them and swapped in atomically by the indexer's --rotate
// mode. A failed or late rotation therefore only prolongs index staleness, it
// never corrupts the index or the database.
package indexer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// IndexError reports a failed index rotation, carrying the diagnostic output
// of the external process.
type IndexError struct {
	Index  string
	Output string
	Err    error
}

func (e *IndexError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("reindex %s failed: %v: %s", e.Index, e.Err, e.Output)
	}
	return fmt.Sprintf("reindex %s failed: %v", e.Index, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// RunnerConfig configures the external indexer invocation.
type RunnerConfig struct {
	// BinPath is the indexer executable. Default "indexer".
	BinPath string `yaml:"bin_path"`

	// ConfigPath is passed via --config when the file exists.
	ConfigPath string `yaml:"config_path"`

	// Timeout bounds one invocation. Default 90s.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		BinPath: "indexer",
		Timeout: 90 * time.Second,
	}
}

// Runner invokes the indexer binary to rebuild and rotate one index.
type Runner struct {
	cfg RunnerConfig

	// command is swappable in tests.
	command func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.BinPath == "" {
		cfg.BinPath = "indexer"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &Runner{cfg: cfg, command: exec.CommandContext}
}

// Rotate rebuilds the named index and atomically swaps it in. Non-zero exit
// and timeout both yield an *IndexError with the captured stderr.
func (r *Runner) Rotate(ctx context.Context, index string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := []string{index, "--rotate"}
	if r.cfg.ConfigPath != "" {
		if _, err := os.Stat(r.cfg.ConfigPath); err == nil {
			args = append(args, "--config", r.cfg.ConfigPath)
		} else {
			slog.Warn("indexer config file not found, running without --config",
				"config_path", r.cfg.ConfigPath, "index", index)
		}
	}

	var stderr bytes.Buffer
	cmd := r.command(ctx, r.cfg.BinPath, args...)
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &IndexError{Index: index, Output: stderr.String(), Err: err}
	}

	slog.Info("index rotated", "index", index, "took", time.Since(start))
	return nil
}
