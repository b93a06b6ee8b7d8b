package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/presentation/tui"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// RunSession plays one dialogue instance against in and out until it ends
// or the player quits. A named session is paused on quit and picked up
// again on the next run with the same id.
func RunSession(ctx context.Context, opts RunOptions, vars map[string]any, in io.Reader, out io.Writer) error {
	logger := createLogger(opts.Debug)
	render := tui.Plain
	if !opts.Plain && !opts.JSON {
		render = tui.NewRenderer()
	}

	engine, err := createEngine(ctx, opts, logger, eventPrinter(out, render, opts.JSON))
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	g, err := determineGraph(engine.Catalog(), opts.GraphID, opts.Paths[0])
	if err != nil {
		return err
	}

	snap, resumed, err := hydrate(ctx, engine, opts, g.ID(), vars)
	if err != nil {
		return fmt.Errorf("failed to init session: %w", err)
	}
	logSessionStatus(logger, out, opts, snap, resumed)

	if !resumed && snap.Status == domain.StatusRunning {
		if snap, err = engine.AdvanceInstance(ctx, snap.InstanceID, ""); err != nil {
			return handleExecutionError(err)
		}
	}

	p := &player{engine: engine, in: bufio.NewReader(in), out: out, opts: opts}
	final, err := p.loop(ctx, snap)
	if final != nil {
		logCompletion(out, final, err, opts.JSON)
	}
	return handleExecutionError(err)
}

// hydrate restores a named session or starts a new instance.
func hydrate(ctx context.Context, engine *parley.Engine, opts RunOptions, graphID string, vars map[string]any) (*domain.Snapshot, bool, error) {
	if opts.SessionID != "" {
		if opts.Fresh {
			if err := engine.Sessions().Delete(ctx, opts.SessionID); err != nil {
				return nil, false, err
			}
		}
		snap, err := engine.RestoreInstance(ctx, opts.SessionID)
		switch {
		case err == nil:
			return snap, true, nil
		case !errors.Is(err, domain.ErrSnapshotNotFound):
			return nil, false, err
		}
	}

	g, err := engine.Catalog().Latest(graphID)
	if err != nil {
		return nil, false, err
	}
	snap, err := engine.StartInstance(ctx, ports.StartRequest{
		GraphID:      graphID,
		Participants: engine.Participants(castFor(g, opts.Actor)),
		Vars:         vars,
	})
	return snap, false, err
}

type player struct {
	engine *parley.Engine
	in     *bufio.Reader
	out    io.Writer
	opts   RunOptions
}

func (p *player) loop(ctx context.Context, snap *domain.Snapshot) (*domain.Snapshot, error) {
	id := snap.InstanceID
	for !snap.Status.Terminal() {
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		p.prompt(snap)

		line, err := p.in.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return p.quit(ctx, snap, err)
		}
		line = strings.TrimSpace(line)

		var next *domain.Snapshot
		switch {
		case line == "q" || line == "quit" || line == "exit":
			return p.quit(ctx, snap, nil)
		case awaitingChoice(snap):
			choice, ok := pick(snap.Pause.Choices, line)
			if !ok {
				p.system("Pick a number between 1 and %d.", len(snap.Pause.Choices))
				continue
			}
			next, err = p.engine.AdvanceInstance(ctx, id, choice)
		case snap.Status == domain.StatusPaused:
			next, err = p.engine.ResumeInstance(ctx, id)
		default:
			next, err = p.engine.AdvanceInstance(ctx, id, "")
		}

		if next != nil {
			snap = next
		}
		if err != nil {
			if snap.Status.Terminal() {
				return snap, nil
			}
			if errors.Is(err, domain.ErrInvalidChoice) {
				p.system("%v", err)
				continue
			}
			return snap, err
		}
	}
	return snap, nil
}

// quit pauses a named session so it can be resumed and aborts any other.
func (p *player) quit(ctx context.Context, snap *domain.Snapshot, cause error) (*domain.Snapshot, error) {
	var (
		next *domain.Snapshot
		err  error
	)
	switch {
	case p.opts.SessionID != "" && snap.Status == domain.StatusRunning:
		next, err = p.engine.PauseInstance(context.WithoutCancel(ctx), snap.InstanceID)
	case p.opts.SessionID != "":
		return snap, cause
	default:
		next, err = p.engine.AbortInstance(context.WithoutCancel(ctx), snap.InstanceID, "player quit")
	}
	if next == nil {
		next = snap
	}
	return next, errors.Join(cause, err)
}

func (p *player) prompt(snap *domain.Snapshot) {
	if p.opts.JSON {
		return
	}
	switch {
	case awaitingChoice(snap):
		fmt.Fprint(p.out, "choose> ")
	case snap.Status == domain.StatusPaused:
		fmt.Fprint(p.out, "[paused, enter to resume]> ")
	default:
		fmt.Fprint(p.out, "> ")
	}
}

func (p *player) system(format string, args ...any) {
	if p.opts.JSON {
		return
	}
	printSystemMessage(p.out, format, args...)
}

func awaitingChoice(snap *domain.Snapshot) bool {
	return snap.Status == domain.StatusPaused && snap.Pause != nil && snap.Pause.Reason == domain.ReasonAwaitingChoice
}

// pick resolves a 1-based menu number, or passes through an edge or node id.
func pick(choices []domain.Choice, line string) (string, bool) {
	if n, err := strconv.Atoi(line); err == nil {
		if n < 1 || n > len(choices) {
			return "", false
		}
		return choices[n-1].EdgeID, true
	}
	return line, line != ""
}

// eventPrinter writes the events of every committed frame to out, either
// as rendered markdown or as one JSON object per line.
func eventPrinter(out io.Writer, render tui.RenderFunc, jsonMode bool) ports.FrameSink {
	enc := json.NewEncoder(out)
	return ports.FrameSinkFunc(func(_ context.Context, f domain.Frame) error {
		for _, ev := range f.Events {
			if jsonMode {
				if err := enc.Encode(ev); err != nil {
					return err
				}
				continue
			}
			text := tui.Describe(ev)
			if text == "" {
				continue
			}
			rendered, err := render(text)
			if err != nil {
				slog.Debug("render failed", "error", err)
				rendered = text
			}
			fmt.Fprint(out, rendered)
		}
		return nil
	})
}
