// Package ansi holds the SGR escape codes the stderr summaries use.
// The live dashboard styles itself through lipgloss and never touches
// these.
package ansi

// Select Graphic Rendition codes.
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	Dim     = "\033[2m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
)
