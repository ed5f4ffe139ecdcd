package ui

import "github.com/charmbracelet/lipgloss"

var styles = newPalette("#7D56F4", "#04B575", "#FF5F87", "#FFA500", "#626262")

type palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	muted lipgloss.Style
}

func newPalette(title, ok, err, warn, muted string) palette {
	return palette{
		title: newStyle(title).Bold(true).MarginBottom(1),
		ok:    newStyle(ok).Bold(true),
		err:   newStyle(err).Bold(true),
		warn:  newStyle(warn),
		muted: newStyle(muted).Italic(true),
	}
}

func newStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}
