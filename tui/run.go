package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/vpn"
)

// Run shows the menu until the user quits or ctx is done. The menu
// becomes the coordinator's credential prompter while it runs.
func Run(ctx context.Context, c *vpn.Coordinator, store Lister) error {
	p := tea.NewProgram(New(c, store), tea.WithAltScreen(), tea.WithContext(ctx))

	// Program.Send blocks until the update loop receives the message, and
	// the update loop never holds the coordinator lock.
	unsubscribe := c.Subscribe(func(ev vpn.StatusEvent) {
		p.Send(statusMsg(ev))
	})
	defer unsubscribe()

	c.SetPrompter(vpn.PrompterFunc(func(req *vpn.CredentialRequest) {
		go p.Send(promptMsg(newPrompt(req)))
	}))
	defer c.SetPrompter(nil)

	common.LogDebug("Starting interactive menu")
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	if req := c.PendingRequest(); req != nil {
		req.Cancel()
	}
	return nil
}
