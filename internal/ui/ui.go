// Package ui provides styled terminal output helpers for the CLI.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// RenderAccent renders s in the accent style.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders s in the success style.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s in the warning style.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s in the failure style.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderDim renders s de-emphasized.
func RenderDim(s string) string { return dimStyle.Render(s) }
