package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/tree"
)

var (
	primaryColor = lipgloss.Color("#7571f9")
	mutedColor   = lipgloss.Color("#6c757d")
	errorColor   = lipgloss.Color("#ff5f87")

	dirStyle    = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	fileStyle   = lipgloss.NewStyle()
	binaryStyle = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	warnStyle   = lipgloss.NewStyle().Foreground(errorColor)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)
)

// renderTree draws t as an indented tree with sizes.
func renderTree(t models.Tree) string {
	var b strings.Builder
	top := tree.TopLevel(t)
	for i, id := range top {
		renderNode(&b, t, id, "", i == len(top)-1)
	}

	files, dirs := tree.CountNodes(t)
	b.WriteString(mutedStyle.Render(fmt.Sprintf("\n%d directories, %d files, %s of text",
		dirs, files, formatSize(tree.RawSize(t)))))
	return b.String()
}

func renderNode(b *strings.Builder, t models.Tree, id, prefix string, isLast bool) {
	n := t[id]
	if n == nil {
		return
	}
	if isLast {
		b.WriteString(prefix + "└── ")
	} else {
		b.WriteString(prefix + "├── ")
	}

	switch {
	case n.IsDir():
		b.WriteString(dirStyle.Render(n.Name + "/"))
	case n.IsBinary:
		b.WriteString(binaryStyle.Render(n.Name))
		if n.OriginalSize > 0 {
			b.WriteString(mutedStyle.Render(fmt.Sprintf(" (binary, %s)", formatSize(n.OriginalSize))))
		} else {
			b.WriteString(mutedStyle.Render(" (binary)"))
		}
	default:
		b.WriteString(fileStyle.Render(n.Name))
		if n.Content != nil {
			b.WriteString(mutedStyle.Render(fmt.Sprintf(" (%s)", formatSize(int64(len(*n.Content))))))
		}
	}
	b.WriteString("\n")

	childPrefix := prefix + "│   "
	if isLast {
		childPrefix = prefix + "    "
	}
	for i, child := range n.Children {
		renderNode(b, t, child, childPrefix, i == len(n.Children)-1)
	}
}

// formatSize formats a size in bytes to human readable format
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
