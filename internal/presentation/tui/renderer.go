package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/aretw0/parley/pkg/domain"
)

// RenderFunc turns markdown into terminal output.
type RenderFunc func(markdown string) (string, error)

// Plain returns markdown unchanged, for pipes and tests.
func Plain(markdown string) (string, error) { return markdown, nil }

// NewRenderer returns a RenderFunc that renders markdown using glamour.
// It falls back to Plain when glamour cannot be initialized.
func NewRenderer() RenderFunc {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return Plain
	}
	return r.Render
}

// Describe formats an event of the dialogue as markdown. Events with nothing
// to show to a player return an empty string.
func Describe(ev domain.Event) string {
	switch ev.Type {
	case domain.EventNodeEntered:
		if ev.Payload == nil || (ev.Payload.TextKey == "" && ev.Payload.Speaker == "") {
			return ""
		}
		if ev.Payload.Speaker == "" {
			return ev.Payload.TextKey + "\n"
		}
		return fmt.Sprintf("**%s**: %s\n", ev.Payload.Speaker, ev.Payload.TextKey)
	case domain.EventInstancePaused:
		if ev.Reason == domain.ReasonAwaitingChoice {
			return Choices(ev.Choices)
		}
		msg := fmt.Sprintf("> paused: `%s`", ev.Reason)
		if ev.Message != "" {
			msg += " " + ev.Message
		}
		return msg + "\n"
	case domain.EventCommand:
		if ev.Command == nil {
			return ""
		}
		return fmt.Sprintf("> command: `%s`\n", ev.Command.Name)
	case domain.EventInstanceEnded:
		if ev.Reason != "" {
			return fmt.Sprintf("---\n*%s* (%s)\n", ev.Status, ev.Reason)
		}
		return fmt.Sprintf("---\n*%s*\n", ev.Status)
	}
	return ""
}

// Choices formats the options of a branch as a numbered list.
func Choices(choices []domain.Choice) string {
	if len(choices) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, c := range choices {
		label := c.Label
		if label == "" {
			label = c.To
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, label)
	}
	return sb.String()
}
