// Package tui is the interactive terminal menu.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/profile"
	"github.com/yllada/passage/vpn"
)

// Controller is the part of the Coordinator the menu drives.
type Controller interface {
	Toggle(ctx context.Context, key profile.Key) error
	Reconnect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Status() (vpn.Status, bool)
	Active() (*profile.Profile, bool)
	LastError() error
	DataCount() (in, out uint64, ok bool)
}

// Lister lists the stored profiles.
type Lister interface {
	List() ([]*profile.Profile, error)
}

type profilesMsg struct {
	profiles []*profile.Profile
	err      error
}

type statusMsg vpn.StatusEvent

type dataCountMsg struct {
	in, out uint64
	ok      bool
}

type promptMsg prompt

type errMsg struct{ err error }

type submittedMsg struct {
	prompt prompt
	err    error
}

// prompt is a pending credential request as seen by the menu.
type prompt struct {
	key     profile.Key
	title   string
	initial profile.Credentials
	submit  func(ctx context.Context, creds profile.Credentials) error
	cancel  func()
}

func newPrompt(req *vpn.CredentialRequest) prompt {
	return prompt{
		key:     req.Key(),
		title:   req.Title,
		initial: req.Initial,
		submit:  req.Submit,
		cancel:  req.Cancel,
	}
}

const (
	fieldUsername = iota
	fieldPassword
)

// Model is the bubbletea model of the menu.
type Model struct {
	ctrl  Controller
	store Lister

	profiles []*profile.Profile
	cursor   int
	status   vpn.StatusEvent
	err      error
	data     dataCountMsg

	prompt   *prompt
	inputs   []textinput.Model
	focus    int
	formErr  error
	spinner  spinner.Model
	help     help.Model
	keys     keyMap
	formKeys formKeyMap
}

// New creates the menu model.
func New(ctrl Controller, store Lister) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle(vpn.StatusConnecting)

	username := textinput.New()
	username.Placeholder = "username"
	username.Prompt = "Username: "
	username.CharLimit = 256

	password := textinput.New()
	password.Placeholder = "password"
	password.Prompt = "Password: "
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	password.CharLimit = 256

	return Model{
		ctrl:     ctrl,
		store:    store,
		inputs:   []textinput.Model{username, password},
		spinner:  s,
		help:     help.New(),
		keys:     defaultKeyMap(),
		formKeys: defaultFormKeyMap(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadProfiles, m.readStatus, m.spinner.Tick, m.tickDataCount())
}

func (m Model) tickDataCount() tea.Cmd {
	return tea.Tick(common.DataCountInterval, func(time.Time) tea.Msg {
		return m.readDataCount()
	})
}

func (m Model) readDataCount() tea.Msg {
	in, out, ok := m.ctrl.DataCount()
	return dataCountMsg{in: in, out: out, ok: ok}
}

func (m Model) loadProfiles() tea.Msg {
	profiles, err := m.store.List()
	return profilesMsg{profiles: profiles, err: err}
}

func (m Model) readStatus() tea.Msg {
	status, _ := m.ctrl.Status()
	ev := vpn.StatusEvent{Status: status, Err: m.ctrl.LastError()}
	if p, ok := m.ctrl.Active(); ok {
		ev.Key = p.Key()
		ev.Title = p.Title
	}
	return statusMsg(ev)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case profilesMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.profiles = msg.profiles
		if m.cursor >= len(m.profiles) {
			m.cursor = max(len(m.profiles)-1, 0)
		}
		return m, nil

	case statusMsg:
		m.status = vpn.StatusEvent(msg)
		if m.status.Status != vpn.StatusConnected {
			m.data = dataCountMsg{}
		}
		return m, m.loadProfiles

	case dataCountMsg:
		m.data = msg
		return m, m.tickDataCount()

	case promptMsg:
		p := prompt(msg)
		cmd := m.openForm(&p)
		return m, cmd

	case submittedMsg:
		if m.prompt == nil || m.prompt.key != msg.prompt.key {
			return m, nil
		}
		if errors.Is(msg.err, common.ErrInvalidCredentials) {
			m.formErr = msg.err
			return m, nil
		}
		m.closeForm()
		if msg.err != nil && !errors.Is(msg.err, common.ErrRequestResolved) {
			m.err = msg.err
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.prompt != nil {
			return m.updateForm(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.profiles)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Toggle):
		if p := m.selected(); p != nil {
			m.err = nil
			return m, m.run(func(ctx context.Context) error { return m.ctrl.Toggle(ctx, p.Key()) })
		}
	case key.Matches(msg, m.keys.Reconnect):
		m.err = nil
		return m, m.run(m.ctrl.Reconnect)
	case key.Matches(msg, m.keys.Disconnect):
		m.err = nil
		return m, m.run(m.ctrl.Disconnect)
	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadProfiles
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// run calls into the coordinator off the update loop.
func (m Model) run(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), common.ConnectionTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m *Model) openForm(p *prompt) tea.Cmd {
	m.prompt = p
	m.formErr = nil
	m.inputs[fieldUsername].SetValue(p.initial.Username)
	m.inputs[fieldPassword].SetValue(p.initial.Password)
	m.focus = fieldUsername
	if p.initial.Username != "" {
		m.focus = fieldPassword
	}
	return m.focusInput()
}

func (m *Model) closeForm() {
	m.prompt = nil
	m.formErr = nil
	for i := range m.inputs {
		m.inputs[i].Blur()
		m.inputs[i].Reset()
	}
}

func (m *Model) focusInput() tea.Cmd {
	var cmd tea.Cmd
	for i := range m.inputs {
		if i == m.focus {
			cmd = m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
	return cmd
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.String() == "ctrl+c":
		cancel := m.prompt.cancel
		return m, tea.Sequence(func() tea.Msg {
			cancel()
			return nil
		}, tea.Quit)
	case key.Matches(msg, m.formKeys.Cancel):
		cancel := m.prompt.cancel
		m.closeForm()
		return m, func() tea.Msg {
			cancel()
			return nil
		}
	case key.Matches(msg, m.formKeys.Next):
		m.focus = (m.focus + 1) % len(m.inputs)
		cmd := m.focusInput()
		return m, cmd
	case key.Matches(msg, m.formKeys.Prev):
		m.focus = (m.focus + len(m.inputs) - 1) % len(m.inputs)
		cmd := m.focusInput()
		return m, cmd
	case key.Matches(msg, m.formKeys.Submit):
		if m.focus == fieldUsername {
			m.focus = fieldPassword
			cmd := m.focusInput()
			return m, cmd
		}
		p := *m.prompt
		creds := profile.Credentials{
			Username: strings.TrimSpace(m.inputs[fieldUsername].Value()),
			Password: m.inputs[fieldPassword].Value(),
		}
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), common.ConnectionTimeout)
			defer cancel()
			return submittedMsg{prompt: p, err: p.submit(ctx, creds)}
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m Model) selected() *profile.Profile {
	if m.cursor < 0 || m.cursor >= len(m.profiles) {
		return nil
	}
	return m.profiles[m.cursor]
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(common.AppName))
	b.WriteString("\n")

	if len(m.profiles) == 0 {
		b.WriteString(dimStyle.Render("No profiles. Add one with `passage profile add-host`."))
		b.WriteString("\n")
	}
	for i, p := range m.profiles {
		b.WriteString(m.renderRow(i, p))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}

	if m.prompt != nil {
		b.WriteString(m.renderForm())
		b.WriteString("\n")
		b.WriteString(m.help.View(m.formKeys))
	} else {
		b.WriteString("\n")
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}

func (m Model) renderRow(i int, p *profile.Profile) string {
	line := p.Title + " " + badgeStyle.Render("["+string(p.Context)+"]")
	if p.Key() == m.status.Key {
		label := statusStyle(m.status.Status).Render(m.status.Status.String())
		if m.status.Status == vpn.StatusConnecting {
			label = m.spinner.View() + label
		}
		line += "  " + label
	}
	if i == m.cursor {
		return selectedStyle.Render(line)
	}
	return rowStyle.Render(line)
}

func (m Model) statusLine() string {
	if m.status.Key.IsZero() {
		return dimStyle.Render("No active profile")
	}
	line := fmt.Sprintf("%s: %s", m.status.Title, statusStyle(m.status.Status).Render(m.status.Status.String()))
	if m.status.Status == vpn.StatusConnected && m.data.ok {
		count := fmt.Sprintf("↓%s / ↑%s", humanize.Bytes(m.data.in), humanize.Bytes(m.data.out))
		line += "  " + dimStyle.Render(count)
	}
	if m.status.Err != nil && m.status.Status == vpn.StatusDisconnected {
		line += "  " + errorStyle.Render(m.status.Err.Error())
	}
	return line
}

func (m Model) renderForm() string {
	var b strings.Builder
	b.WriteString("Credentials for " + m.prompt.title + "\n\n")
	for _, in := range m.inputs {
		b.WriteString(in.View())
		b.WriteString("\n")
	}
	if m.formErr != nil {
		b.WriteString("\n" + errorStyle.Render(m.formErr.Error()))
	}
	return formStyle.Render(b.String())
}
