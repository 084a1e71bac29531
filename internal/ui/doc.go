// Package ui styles terminal output with lipgloss.
//
// The [Palette] colors session state and status lines printed by the CLI: a signed-in session is
// shown in the success color, an expired one as an error, and anything else as a warning.
package ui
