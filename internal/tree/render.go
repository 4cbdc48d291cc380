package tree

import (
	"fmt"
	"strings"

	"github.com/Rrens/postbot/internal/domain"
)

const (
	branchMid   = "├── "
	branchLast  = "└── "
	pipeIndent  = "│   "
	spaceIndent = "    "
)

// Render draws the series as a text tree, one line per post
func Render(posts []domain.Post) string {
	if len(posts) == 0 {
		return ""
	}

	byID := make(map[int]domain.Post, len(posts))
	for _, p := range posts {
		if _, ok := byID[p.ID]; !ok {
			byID[p.ID] = p
		}
	}

	f := Build(posts)
	var b strings.Builder
	var walk func(ids []int, prefix string)
	walk = func(ids []int, prefix string) {
		for i, id := range ids {
			last := i == len(ids)-1
			connector, childPrefix := branchMid, prefix+pipeIndent
			if last {
				connector, childPrefix = branchLast, prefix+spaceIndent
			}
			b.WriteString(prefix)
			b.WriteString(connector)
			b.WriteString(Label(byID[id]))
			b.WriteByte('\n')
			walk(f.Children[id], childPrefix)
		}
	}
	walk(f.Roots, "")

	return strings.TrimRight(b.String(), "\n")
}

// Label is the single-line description of a post used in trees and menus
func Label(p domain.Post) string {
	tone := p.ToneUsed
	if tone == "" {
		tone = "untitled"
	}
	label := fmt.Sprintf("Post %d (%s)", p.ID, tone)
	if rel := p.Relationship(); rel != "" {
		label += " [" + rel + "]"
	}
	return label
}
