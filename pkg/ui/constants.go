package ui

import "time"

// Table Column Titles
const (
	ColPortLocal = "LOCAL"
	ColRemote    = "REMOTE"
	ColStatus    = "STATUS"
	ColConns     = "CONNS"
	ColTraffic   = "TRAFFIC"
)

// Action Lines / Key Hints
const (
	ActionPortForwardNav  = "space: Start/Stop | a: Start All | s: Stop All | /: Filter | ctrl+p: Projects | ctrl+r: Reload | q: Quit"
	ActionProjectSelector = "↑/↓: Navigate | enter: Select Project | esc: Back"
)

// Keyboard shortcuts
const (
	ShortcutExit         = "ctrl+x"
	ShortcutReloadConfig = "ctrl+r"
	ShortcutProjects     = "ctrl+p"
	ShortcutStartAll     = "a"
	ShortcutStopAll      = "s"
)

// Numeric Constants for Layout/Indexing
const (
	HeaderHeightEstimate   = 3 // Estimated lines used by the header section
	MinTableHeight         = 4 // Minimum height for tables after calculation
	PortForwardsViewOffset = 8 // Estimated non-table lines in the mappings view (including filter line)
)

// RefreshInterval is how often live connection counts are redrawn
const RefreshInterval = time.Second

// Status Strings - display-only, derived from the forwarder
const (
	StatusStopped   = "Stopped"
	StatusListening = "Listening"
	StatusBindError = "Bind error"
	StatusNotAccept = "Accept error"
)

// Lipgloss Colors
const (
	ColorBorder     = "240"
	ColorSelectedFg = "229"
	ColorSelectedBg = "57"
	ColorTitle      = "14"  // Cyan for titles
	ColorHelp       = "245" // Grey for help text
	ColorError      = "9"   // Red for errors
	ColorStatus     = "10"  // Green for status messages
)
