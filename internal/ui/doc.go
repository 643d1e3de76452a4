// Package ui styles terminal output for the sharelist CLI.
//
// [Palette] holds the few lipgloss styles the commands use for headings, success and
// failure lines and hints. [Default] is the palette the CLI renders with.
package ui
