package domain

// Length buckets for post content, in characters
const (
	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"
)

// UserPreferences accumulates what a user has accepted across every series.
// Counters only grow.
type UserPreferences struct {
	ToneCounts     map[string]int `json:"tone_counts"`
	AudienceCounts map[string]int `json:"audience_counts"`
	LengthCounts   map[string]int `json:"length_counts"`
}

// NewUserPreferences returns empty counters
func NewUserPreferences() UserPreferences {
	return UserPreferences{
		ToneCounts:     map[string]int{},
		AudienceCounts: map[string]int{},
		LengthCounts:   map[string]int{},
	}
}

// LengthBucket maps content to a length bucket
func LengthBucket(content string) string {
	n := len([]rune(content))
	switch {
	case n < 500:
		return LengthShort
	case n < 1200:
		return LengthMedium
	default:
		return LengthLong
	}
}

// Record counts one accepted post. Empty values are skipped.
func (p *UserPreferences) Record(tone, audience, content string) {
	p.ensure()
	if tone != "" {
		p.ToneCounts[tone]++
	}
	if audience != "" {
		p.AudienceCounts[audience]++
	}
	p.LengthCounts[LengthBucket(content)]++
}

// Merge adds other's counters into p
func (p *UserPreferences) Merge(other UserPreferences) {
	p.ensure()
	for k, v := range other.ToneCounts {
		p.ToneCounts[k] += v
	}
	for k, v := range other.AudienceCounts {
		p.AudienceCounts[k] += v
	}
	for k, v := range other.LengthCounts {
		p.LengthCounts[k] += v
	}
}

// FavoriteTone returns the most accepted tone, or "" if none
func (p UserPreferences) FavoriteTone() string {
	best, bestCount := "", 0
	for tone, n := range p.ToneCounts {
		if n > bestCount || (n == bestCount && tone < best) {
			best, bestCount = tone, n
		}
	}
	return best
}

func (p *UserPreferences) ensure() {
	if p.ToneCounts == nil {
		p.ToneCounts = map[string]int{}
	}
	if p.AudienceCounts == nil {
		p.AudienceCounts = map[string]int{}
	}
	if p.LengthCounts == nil {
		p.LengthCounts = map[string]int{}
	}
}

func (p UserPreferences) clone() UserPreferences {
	c := NewUserPreferences()
	c.Merge(p)
	return c
}
