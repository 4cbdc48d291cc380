// Package tree derives the parent/child structure of a post series.
// Nothing here is stored: the forest is rebuilt from the post list on demand.
package tree

import (
	"sort"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/rs/zerolog/log"
)

// Forest is the parent/child view over a series
type Forest struct {
	// Roots are post ids without a usable parent, in append order.
	Roots []int `json:"roots"`
	// Children maps a post id to its direct children in append order.
	Children map[int][]int `json:"children"`
	// Dangling lists posts whose parent id did not resolve. They are also roots.
	Dangling []int `json:"dangling,omitempty"`
}

// Build constructs the forest. A post pointing at an unknown parent is
// promoted to a root instead of failing.
func Build(posts []domain.Post) Forest {
	f := Forest{
		Roots:    []int{},
		Children: make(map[int][]int),
	}

	known := make(map[int]bool, len(posts))
	order := make([]int, 0, len(posts))
	for _, p := range posts {
		if known[p.ID] {
			log.Warn().Int("post_id", p.ID).Msg("duplicate post id in series, ignoring repeat")
			continue
		}
		known[p.ID] = true
		order = append(order, p.ID)
	}

	parentOf := make(map[int]int, len(posts))
	seen := make(map[int]bool, len(posts))
	for _, p := range posts {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true

		if p.ParentPostID == nil {
			f.Roots = append(f.Roots, p.ID)
			continue
		}
		parent := *p.ParentPostID
		if !known[parent] || parent == p.ID {
			log.Warn().
				Int("post_id", p.ID).
				Int("parent_post_id", parent).
				Msg("dangling parent reference, treating post as root")
			f.Roots = append(f.Roots, p.ID)
			f.Dangling = append(f.Dangling, p.ID)
			continue
		}
		parentOf[p.ID] = parent
		f.Children[parent] = append(f.Children[parent], p.ID)
	}

	f.breakCycles(order, parentOf)
	return f
}

// breakCycles promotes one member of every parent cycle to a root so that
// each post stays reachable exactly once.
func (f *Forest) breakCycles(order []int, parentOf map[int]int) {
	for {
		reached := f.reachable()
		if len(reached) == len(order) {
			return
		}
		for _, id := range order {
			if reached[id] {
				continue
			}
			parent := parentOf[id]
			f.Children[parent] = remove(f.Children[parent], id)
			if len(f.Children[parent]) == 0 {
				delete(f.Children, parent)
			}
			log.Warn().Int("post_id", id).Int("parent_post_id", parent).Msg("parent cycle detected, treating post as root")
			f.Roots = append(f.Roots, id)
			f.Dangling = append(f.Dangling, id)
			break
		}
	}
}

func (f *Forest) reachable() map[int]bool {
	reached := make(map[int]bool)
	stack := append([]int(nil), f.Roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[id] {
			continue
		}
		reached[id] = true
		stack = append(stack, f.Children[id]...)
	}
	return reached
}

// Depth returns how many ancestors a post has, or -1 if it is not in the forest
func (f Forest) Depth(id int) int {
	var walk func(nodes []int, depth int) int
	walk = func(nodes []int, depth int) int {
		for _, n := range nodes {
			if n == id {
				return depth
			}
			if d := walk(f.Children[n], depth+1); d >= 0 {
				return d
			}
		}
		return -1
	}
	return walk(f.Roots, 0)
}

// MostRecent returns the post with the highest id
func MostRecent(posts []domain.Post) (domain.Post, bool) {
	if len(posts) == 0 {
		return domain.Post{}, false
	}
	best := posts[0]
	for _, p := range posts[1:] {
		if p.ID > best.ID {
			best = p
		}
	}
	return best, true
}

// Stats summarizes a series
type Stats struct {
	TotalPosts        int            `json:"total_posts"`
	ToneDistribution  map[string]int `json:"tone_distribution"`
	RelationshipTypes []string       `json:"relationship_types"`
	MostCommonTone    string         `json:"most_common_tone,omitempty"`
}

// Statistics computes post counts, tone distribution and relationship usage.
// Ties for the most common tone go to the tone seen first.
func Statistics(posts []domain.Post) Stats {
	st := Stats{
		TotalPosts:        len(posts),
		ToneDistribution:  map[string]int{},
		RelationshipTypes: []string{},
	}

	var toneOrder []string
	relSeen := map[string]bool{}
	for _, p := range posts {
		if p.ToneUsed != "" {
			if _, ok := st.ToneDistribution[p.ToneUsed]; !ok {
				toneOrder = append(toneOrder, p.ToneUsed)
			}
			st.ToneDistribution[p.ToneUsed]++
		}
		if rel := p.Relationship(); rel != "" && !relSeen[rel] {
			relSeen[rel] = true
			st.RelationshipTypes = append(st.RelationshipTypes, rel)
		}
	}
	sort.Strings(st.RelationshipTypes)

	bestCount := 0
	for _, tone := range toneOrder {
		if n := st.ToneDistribution[tone]; n > bestCount {
			st.MostCommonTone, bestCount = tone, n
		}
	}
	return st
}

func remove(ids []int, id int) []int {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
