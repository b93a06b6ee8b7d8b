package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// RunOptions contains all the configuration for the Run command.
type RunOptions struct {
	Paths     []string
	GraphID   string
	Actor     string
	Vars      string // Raw JSON object
	SessionID string
	Fresh     bool
	StoreDir  string
	JSON      bool
	Plain     bool
	Debug     bool
}

// Execute handles the 'run' command logic.
func Execute(ctx context.Context, opts RunOptions, in io.Reader, out io.Writer) error {
	var vars map[string]any
	if opts.Vars != "" {
		if err := json.Unmarshal([]byte(opts.Vars), &vars); err != nil {
			return fmt.Errorf("error parsing --vars JSON: %w", err)
		}
	}
	if len(opts.Paths) == 0 {
		opts.Paths = []string{"."}
	}
	if opts.Actor == "" {
		opts.Actor = DefaultActor
	}
	if opts.StoreDir == "" {
		opts.StoreDir = DefaultStoreDir
	}
	return RunSession(ctx, opts, vars, in, out)
}
