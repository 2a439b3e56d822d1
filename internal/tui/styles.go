package tui

import "github.com/charmbracelet/lipgloss"

// Semantic color palette.
var (
	colorPrimary     = lipgloss.Color("#00BFFF") // Cyan — primary accent
	colorAccent      = lipgloss.Color("#FFD700") // Gold — attention/pause
	colorSuccess     = lipgloss.Color("#00E676") // Green — succeeded
	colorDanger      = lipgloss.Color("#FF5252") // Red — errors/failures
	colorSkipped     = lipgloss.Color("#C678DD") // Purple — skipped branches
	colorMuted       = lipgloss.Color("#636363") // Gray — de-emphasized
	colorMutedLight  = lipgloss.Color("#8C8C8C") // Lighter gray — normal text
	colorWhite       = lipgloss.Color("#EEEEEE") // Off-white — primary text
	colorBrightWhite = lipgloss.Color("#FFFFFF") // Pure white — emphatic text
	colorSurface     = lipgloss.Color("#1E1E2E") // Dark surface — status bar bg
	colorSurfaceDim  = lipgloss.Color("#181825") // Darkest surface — footer bg
	colorBlue        = lipgloss.Color("#5B8DEF") // Blue — running/active
)

// Selection indicator prepended to the active row.
const selectionIndicator = "▎"

// Status icons for step states.
const (
	iconDone    = "✓"
	iconFailed  = "✗"
	iconRunning = "◎"
	iconWaiting = "·"
	iconSkipped = "–"
)

// Status bar styles — visually dominant with solid background.
var (
	styleStatusBar = lipgloss.NewStyle().
			Background(colorSurface).
			Foreground(colorWhite).
			Bold(true).
			Padding(0, 1)

	styleStatusMode = lipgloss.NewStyle().
			Background(colorSurface).
			Foreground(colorPrimary).
			Bold(true)

	styleStatusName = lipgloss.NewStyle().
			Background(colorSurface).
			Foreground(colorWhite)

	styleStatusCounts = lipgloss.NewStyle().
				Background(colorSurface).
				Foreground(colorMutedLight)

	styleStatusElapsed = lipgloss.NewStyle().
				Background(colorSurface).
				Foreground(colorMutedLight)

	styleStatusPaused = lipgloss.NewStyle().
				Background(colorSurface).
				Foreground(colorAccent).
				Bold(true)

	styleStatusStopping = lipgloss.NewStyle().
				Background(colorSurface).
				Foreground(colorDanger).
				Bold(true)
)

// Wave separator style in the step board.
var styleWaveHeader = lipgloss.NewStyle().
	Foreground(colorMuted)

// Step row styles.
var (
	styleRowSelected = lipgloss.NewStyle().
				Foreground(colorBrightWhite).
				Bold(true)

	styleStepID = lipgloss.NewStyle().
			Foreground(colorWhite)

	styleStepDetail = lipgloss.NewStyle().
			Foreground(colorMutedLight)

	styleRowDone = lipgloss.NewStyle().
			Foreground(colorSuccess)

	styleRowRunning = lipgloss.NewStyle().
			Foreground(colorBlue)

	styleRowFailed = lipgloss.NewStyle().
			Foreground(colorDanger).
			Bold(true)

	styleRowSkipped = lipgloss.NewStyle().
			Foreground(colorSkipped)

	styleRowWaiting = lipgloss.NewStyle().
			Foreground(colorMuted)

	// styleSelectionIndicator styles the left-edge indicator for the selected row.
	styleSelectionIndicator = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true)
)

// Detail panel styles — rounded border, styled title.
var (
	styleDetailBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorMuted).
				Padding(0, 1)

	styleDetailTitle = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true)

	styleDetailDim = lipgloss.NewStyle().
			Foreground(colorMuted)

	styleScrollIndicator = lipgloss.NewStyle().
				Foreground(colorMuted)
)

// Transcript line highlighting inside the detail panel.
var (
	styleLineOK   = lipgloss.NewStyle().Foreground(colorSuccess)
	styleLineFail = lipgloss.NewStyle().Foreground(colorDanger)
	styleLineWarn = lipgloss.NewStyle().Foreground(colorAccent)
)

// Note line shown above the footer for interventions and continuations.
var styleNote = lipgloss.NewStyle().
	Foreground(colorMutedLight).
	Italic(true)

// Footer styles — top border, clear key/desc contrast.
var (
	styleFooter = lipgloss.NewStyle().
			Foreground(colorMuted).
			Background(colorSurfaceDim).
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(colorMuted)

	styleFooterKey = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	styleFooterSep = lipgloss.NewStyle().
			Foreground(colorMuted)

	styleFooterDesc = lipgloss.NewStyle().
			Foreground(colorMutedLight)
)

// Section border for separating view regions.
var styleSectionBorder = lipgloss.NewStyle().
	Border(lipgloss.NormalBorder(), true, false, false, false).
	BorderForeground(colorMuted)
