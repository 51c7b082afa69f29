package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the colors and styles the TUI uses to render tracked
// calls and the confirmation modal, keyed to ToolCallStatus rather than
// chat-turn roles.
type Theme struct {
	PromptBorder lipgloss.Color
	ChatBorder   lipgloss.Color
	TextColor    lipgloss.Color
	Warning      lipgloss.Color
	Error        lipgloss.Color
	Background   lipgloss.Color

	// Status-keyed line rendering, one per ToolCallStatus bucket.
	RenderPending   func(string) lipgloss.Style
	RenderRunning   func(string) lipgloss.Style
	RenderSuccess   func(string) lipgloss.Style
	RenderError     func(string) lipgloss.Style
	RenderCancelled func(string) lipgloss.Style

	Border    lipgloss.Style
	Highlight lipgloss.Style
}

// NewTheme creates and returns a new Theme with the scheduler's default
// color scheme.
func NewTheme() *Theme {
	promptBorder := lipgloss.Color("#F952F9")
	chatBorder := lipgloss.Color("#F4DB53")
	textColor := lipgloss.Color("#01FAFA")
	warning := lipgloss.Color("#F4DB53")
	errorColor := lipgloss.Color("#F54545")
	background := lipgloss.Color("#271D30")
	success := lipgloss.Color("#3FCF6E")
	muted := lipgloss.Color("#6B6B6B")

	render := func(c lipgloss.Color) func(string) lipgloss.Style {
		return func(text string) lipgloss.Style {
			return lipgloss.NewStyle().Foreground(c).SetString(text)
		}
	}

	return &Theme{
		PromptBorder: promptBorder,
		ChatBorder:   chatBorder,
		TextColor:    textColor,
		Warning:      warning,
		Error:        errorColor,
		Background:   background,

		RenderPending:   render(chatBorder),
		RenderRunning:   render(textColor),
		RenderSuccess:   render(success),
		RenderError:     render(errorColor),
		RenderCancelled: render(muted),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(chatBorder),

		Highlight: lipgloss.NewStyle().
			Foreground(textColor).
			Background(background),
	}
}
