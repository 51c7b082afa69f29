package main

import (
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

// Toast is a transient notification shown for one terminal ToolCallStatus
// transition (success, error, or cancelled).
type Toast struct {
	ID      string
	Message string
	Status  ToolCallStatus
	Created time.Time
	Timeout time.Duration
}

// ToastManager tracks toasts raised by terminal tool-call transitions and
// renders the most recent one still within its timeout.
type ToastManager struct {
	Toasts []Toast
	theme  *Theme
	Style  lipgloss.Style
}

// NewToastManager creates a toast manager styled from theme.
func NewToastManager(theme *Theme) ToastManager {
	return ToastManager{
		Toasts: make([]Toast, 0),
		theme:  theme,
		Style: lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Padding(0, 1).
			MaxWidth(50),
	}
}

// AddToast raises a toast for a call that just reached status.
func (tm *ToastManager) AddToast(message string, status ToolCallStatus, timeout time.Duration) {
	tm.Toasts = append(tm.Toasts, Toast{
		ID:      uuid.New().String(),
		Message: message,
		Status:  status,
		Created: time.Now(),
		Timeout: timeout,
	})
}

// RemoveToast removes a toast by ID.
func (tm *ToastManager) RemoveToast(id string) {
	for i, toast := range tm.Toasts {
		if toast.ID == id {
			tm.Toasts = append(tm.Toasts[:i], tm.Toasts[i+1:]...)
			break
		}
	}
}

// Clear removes all existing toast notifications.
func (tm *ToastManager) Clear() {
	tm.Toasts = nil
}

// Update drops toasts whose timeout has elapsed.
func (tm ToastManager) Update() ToastManager {
	now := time.Now()
	active := make([]Toast, 0, len(tm.Toasts))
	for _, toast := range tm.Toasts {
		if now.Sub(toast.Created) < toast.Timeout {
			active = append(active, toast)
		}
	}
	tm.Toasts = active
	return tm
}

// View renders the most recent active toast, colored by its status.
func (tm ToastManager) View() string {
	if len(tm.Toasts) == 0 {
		return ""
	}

	toast := tm.Toasts[len(tm.Toasts)-1]
	style := tm.Style.Background(toastBackground(tm.theme, toast.Status))

	contentWidth := lipgloss.Width(toast.Message)
	frameWidth, _ := style.GetFrameSize()
	maxWidth := style.GetMaxWidth()
	if maxWidth > 0 && contentWidth+frameWidth > maxWidth {
		style = style.MaxWidth(contentWidth + frameWidth)
	}
	return style.Render(toast.Message)
}

// toastBackground maps a terminal ToolCallStatus onto the theme color a
// toast for it should be raised in.
func toastBackground(theme *Theme, status ToolCallStatus) lipgloss.Color {
	switch status {
	case StatusSuccess:
		return lipgloss.Color("76")
	case StatusError:
		return theme.Error
	case StatusCancelled:
		return theme.Warning
	default:
		return theme.Background
	}
}
