package ui

import (
	"context"
	"errors"
	"fmt"

	"replayctl/internal/replay"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the bar for c until the user quits or ctx is cancelled.
// Controller events reach the program through a subscription.
func Run(ctx context.Context, c *replay.Controller, opts ...tea.ProgramOption) error {
	snap, err := c.State(ctx)
	if err != nil {
		return fmt.Errorf("read controller state: %w", err)
	}
	m := New(ctx, c).WithSnapshot(snap)

	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	sub, err := c.Subscribe(ctx, func(ev replay.Event) {
		p.Send(EventMsg{Event: ev})
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("replay bar: %w", err)
	}
	return nil
}
