package ui

import "time"

// UIState represents the different views/states of the UI
type UIState int

const (
	StatePortForwards    UIState = iota // Mappings table view
	StateProjectSelector                // Project selection view (Ctrl+P)
)

// tickMsg triggers a redraw of live listener state
type tickMsg time.Time
