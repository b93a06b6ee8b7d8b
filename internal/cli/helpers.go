package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
)

// SignalContext wraps a context and captures the signal that cancelled it.
type SignalContext struct {
	context.Context
	Cancel func()
	start  sync.Once
	stop   sync.Once
	sigCh  chan os.Signal
	sigVal os.Signal
	mu     sync.Mutex
}

// NewSignalContext creates a context that is cancelled on SIGINT or SIGTERM.
// It acts as a drop-in replacement for signal.NotifyContext but allows retrieving the signal.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		sigCh:   make(chan os.Signal, 1),
	}

	sc.start.Do(func() {
		signal.Notify(sc.sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-sc.sigCh:
				sc.mu.Lock()
				sc.sigVal = sig
				sc.mu.Unlock()
				sc.Cancel()
			case <-sc.Context.Done():
			}
			sc.stop.Do(func() {
				signal.Stop(sc.sigCh)
			})
		}()
	})

	return sc
}

// Signal returns the signal that caused the context to be cancelled, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sigVal
}

// createLogger configures the session logger.
// In debug mode, it writes to Stderr (to separate from Stdout flow UI).
func createLogger(debug bool) *slog.Logger {
	if debug {
		return logging.New(slog.LevelDebug)
	}
	return logging.NewNop()
}

// printSystemMessage prints a standardized system message.
func printSystemMessage(out io.Writer, format string, args ...any) {
	fmt.Fprintf(out, ">>> %s\n", fmt.Sprintf(format, args...))
}

func logSessionStatus(logger *slog.Logger, out io.Writer, opts RunOptions, snap *domain.Snapshot, resumed bool) {
	quiet := opts.JSON
	if resumed {
		logger.Info("Session Resumed", "session_id", opts.SessionID, "node", snap.CurrentNodeID)
		if !quiet {
			printSystemMessage(out, "Resuming at '%s' node...", snap.CurrentNodeID)
		}
	} else if opts.SessionID != "" {
		logger.Info("Session Created", "session_id", opts.SessionID, "graph_id", snap.GraphID)
		if !quiet {
			printSystemMessage(out, "Session '%s' active.", opts.SessionID)
		}
	}
}

func createDebugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEntered: func(ctx context.Context, e *domain.Event) {
			logger.Debug("Enter Node", "node_id", e.NodeID, "kind", e.Kind)
		},
		OnInstancePaused: func(ctx context.Context, e *domain.Event) {
			logger.Debug("Paused", "reason", e.Reason, "decorator_id", e.DecoratorID)
		},
		OnCommand: func(ctx context.Context, e *domain.Event) {
			logger.Debug("Command", "name", e.Command.Name)
		},
	}
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}

func handleExecutionError(err error) error {
	if err == nil || isInterrupted(err) {
		return nil
	}
	return err
}

func logCompletion(out io.Writer, snap *domain.Snapshot, err error, quiet bool) {
	if quiet {
		return
	}
	switch {
	case snap.Status == domain.StatusCompleted:
		printSystemMessage(out, "Finished at '%s' node.", snap.CurrentNodeID)
	case snap.Status == domain.StatusPaused:
		printSystemMessage(out, "Saved at '%s' node.", snap.CurrentNodeID)
	case isInterrupted(err):
		printSystemMessage(out, "Interrupted at '%s' node.", snap.CurrentNodeID)
	case snap.Status == domain.StatusAborted:
		printSystemMessage(out, "Stopped at '%s' node (%s).", snap.CurrentNodeID, snap.Reason)
	}
}
