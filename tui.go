package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// toolStateUpdateMsg wraps a ToolCall snapshot published on
// TOOL_STATE_UPDATE into a bubbletea message.
type toolStateUpdateMsg ToolCall

// confirmationRequestMsg wraps a TOOL_CONFIRMATION_REQUEST payload
// into a bubbletea message so the Update loop can open a modal.
type confirmationRequestMsg ToolConfirmationRequestMsg

// TUIModel renders the scheduler's live state: one line per tracked
// call, and a confirmation modal whenever a call is awaiting approval.
type TUIModel struct {
	app    *app
	theme  *Theme
	toasts ToastManager

	calls []ToolCall
	index map[string]int

	pending  *confirmationRequestMsg
	quitting bool

	width, height int
}

// NewTUIModel builds the model from a fully wired app.
func NewTUIModel(a *app) *TUIModel {
	theme := NewTheme()
	return &TUIModel{
		app:    a,
		theme:  theme,
		toasts: NewToastManager(theme),
		index:  make(map[string]int),
	}
}

func (m *TUIModel) Init() tea.Cmd {
	return nil
}

func (m *TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = v.Width, v.Height
		return m, nil

	case toolStateUpdateMsg:
		call := ToolCall(v)
		m.upsert(call)
		if call.Status.terminal() {
			m.toasts.AddToast(fmt.Sprintf("%s: %s", call.Request.Name, call.Status), call.Status, 3*time.Second)
		}
		return m, nil

	case confirmationRequestMsg:
		req := v
		m.pending = &req
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(v)
	}

	m.toasts = m.toasts.Update()
	return m, nil
}

func (m *TUIModel) upsert(call ToolCall) {
	if idx, ok := m.index[call.Request.CallID]; ok {
		m.calls[idx] = call
		return
	}
	m.index[call.Request.CallID] = len(m.calls)
	m.calls = append(m.calls, call)
}

func (m *TUIModel) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.pending != nil {
		return m.handleConfirmationKey(key)
	}

	switch key.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.app.scheduler.CancelAll()
		return m, tea.Quit
	case "esc":
		m.app.scheduler.CancelAll()
		return m, nil
	}
	return m, nil
}

// handleConfirmationKey maps a single keystroke to one of the
// scheduler's confirmation outcomes and publishes the response.
func (m *TUIModel) handleConfirmationKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	req := *m.pending
	isMCP := req.Details != nil && req.Details.Kind == "mcp"
	var outcome ConfirmationOutcome

	switch key.String() {
	case "y", "enter":
		outcome = OutcomeProceedOnce
	case "a":
		outcome = OutcomeProceedAlways
	case "t":
		if !isMCP {
			return m, nil
		}
		outcome = OutcomeProceedAlwaysTool
	case "s":
		if !isMCP {
			return m, nil
		}
		outcome = OutcomeProceedAlwaysServer
	case "S":
		outcome = OutcomeProceedAlwaysAndSave
	case "e":
		outcome = OutcomeModifyWithEditor
	case "n", "esc":
		outcome = OutcomeCancel
	default:
		return m, nil
	}

	m.pending = nil
	m.app.bus.Publish(TopicToolConfirmationResponse, ConfirmationResponse{
		CorrelationID: req.CorrelationID,
		Outcome:       outcome,
	})
	return m, nil
}

func (m *TUIModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.theme.Border.Render("Tool Calls") + "\n")

	ids := make([]string, 0, len(m.calls))
	for id := range m.index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.index[ids[i]] < m.index[ids[j]] })

	for _, id := range ids {
		call := m.calls[m.index[id]]
		b.WriteString(renderCallLine(m.theme, call) + "\n")
	}

	if m.pending != nil {
		b.WriteString("\n" + m.renderConfirmationModal(*m.pending))
	}

	if toast := m.toasts.View(); toast != "" {
		b.WriteString("\n" + toast)
	}

	b.WriteString("\n(q to quit, esc to cancel the running batch)")
	return b.String()
}

func renderCallLine(theme *Theme, call ToolCall) string {
	marker := statusMarker(call.Status)
	line := fmt.Sprintf("%s %s", marker, call.Request.Name)
	return statusRenderer(theme, call.Status)(line).Render()
}

// statusRenderer picks the Theme function matching call.Status's
// terminal/in-flight bucket.
func statusRenderer(theme *Theme, status ToolCallStatus) func(string) lipgloss.Style {
	switch status {
	case StatusSuccess:
		return theme.RenderSuccess
	case StatusError:
		return theme.RenderError
	case StatusCancelled:
		return theme.RenderCancelled
	case StatusExecuting:
		return theme.RenderRunning
	default:
		return theme.RenderPending
	}
}

func statusMarker(status ToolCallStatus) string {
	switch status {
	case StatusValidating, StatusScheduled:
		return "○"
	case StatusAwaitingApproval:
		return "◔"
	case StatusExecuting:
		return "◐"
	case StatusSuccess:
		return "●"
	case StatusError:
		return "✗"
	case StatusCancelled:
		return "⊘"
	default:
		return "○"
	}
}

func (m *TUIModel) renderConfirmationModal(req confirmationRequestMsg) string {
	details := req.Details
	title := "Confirm tool call"
	body := ""
	if details != nil {
		switch details.Kind {
		case "exec":
			title = "Allow shell command?"
			body = details.RootCommand
			if details.Description != "" {
				body = details.Description + "\n" + body
			}
		case "edit":
			title = "Allow file edit?"
			body = details.Description
			if details.ProposedDiff != "" {
				body += "\n\n" + details.ProposedDiff
			}
		case "mcp":
			title = fmt.Sprintf("Allow MCP server %s?", details.ServerName)
			body = details.Description
		default:
			body = details.Description
		}
	}

	help := "[y] once  [a] always  [S] always+save  [e] edit  [n] cancel"
	if details != nil && details.Kind == "mcp" {
		help = "[y] once  [a] always  [t] always this tool  [s] always this server  [S] always+save  [e] edit  [n] cancel"
	}
	content := fmt.Sprintf("%s\n%s\n\n%s", title, body, help)
	return m.theme.Highlight.Copy().Padding(1, 2).Border(lipgloss.RoundedBorder()).Render(content)
}

// submitDemoBatch is a convenience entry point for manual smoke
// testing from outside the TUI's key loop (e.g. a future slash
// command); it runs requests through the same scheduler the TUI
// observes.
func (m *TUIModel) submitDemoBatch(ctx context.Context, requests []ToolCallRequest) <-chan ScheduleResult {
	return m.app.scheduler.Schedule(ctx, requests)
}
