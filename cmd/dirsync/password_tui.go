package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	txtPasswordPrompt      = "Archive password for %s"
	txtPasswordPlaceholder = "••••••••"
	txtPasswordEmpty       = "Password must not be empty"
	txtPasswordHelp        = "Press 'Enter' to submit. 'Esc' or 'Ctrl+C' to cancel."
)

var ErrPromptCancelled = errors.New("password prompt cancelled")

var (
	focusedStyle     = green
	helpStyle        = gray
	errorTextStyle   = red
	placeholderStyle = gray
	titleStyle       = cyan.Bold(true)
)

type passwordModel struct {
	target    string
	input     textinput.Model
	errorMsg  string
	submitted bool
	cancelled bool
}

func newPasswordModel(target string) passwordModel {
	input := textinput.New()
	input.Placeholder = txtPasswordPlaceholder
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'
	input.CharLimit = 256
	input.Width = 48
	input.PromptStyle = focusedStyle
	input.TextStyle = focusedStyle
	input.PlaceholderStyle = placeholderStyle
	input.Focus()

	return passwordModel{target: target, input: input}
}

func (m passwordModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m passwordModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		case tea.KeyEnter:
			if m.input.Value() == "" {
				m.errorMsg = txtPasswordEmpty
				return m, nil
			}
			m.submitted = true
			return m, tea.Quit
		}
		m.errorMsg = ""
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m passwordModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf(txtPasswordPrompt, m.target)))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	if m.errorMsg != "" {
		b.WriteString("\n\n")
		b.WriteString(errorTextStyle.Render(m.errorMsg))
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render(txtPasswordHelp))
	b.WriteString("\n")
	return b.String()
}

// promptPassword reads the archive password without echoing it.
func promptPassword(target string) (string, error) {
	if target == "" {
		target = "the archive"
	}
	model, err := tea.NewProgram(newPasswordModel(target)).Run()
	if err != nil {
		return "", fmt.Errorf("password prompt: %w", err)
	}

	fm, ok := model.(passwordModel)
	if !ok || fm.cancelled || !fm.submitted {
		return "", ErrPromptCancelled
	}
	return fm.input.Value(), nil
}
