// Package waluigi detects alignment-inversion ("Waluigi effect") content: an
// agent that flips from its assigned role into an adversarial persona.
// It generalizes the teacher's response scanner
// (internal/domain/action/response_scanner.go) from binary pattern
// detection to a saturated weighted score, and adds a reversal-bonus
// heuristic over the session's recent refusal/approval history.
package waluigi

import (
	"regexp"
)

// weightedPattern is a single compiled detection pattern with a
// contribution weight in [0,1], generalizing the teacher's
// compiledPattern{name, category, re} to carry a weight.
type weightedPattern struct {
	name     string
	category string
	weight   float64
	re       *regexp.Regexp
}

// Match is a single pattern hit, mirroring the teacher's ScanFinding shape.
type Match struct {
	PatternName     string
	PatternCategory string
	MatchedText     string
	Position        int
	Weight          float64
}

// Assessment is the detector's verdict over one piece of content plus a
// session's reversal signal.
type Assessment struct {
	Score          float64
	MatchedPattern []Match
	ReversalBonus  float64
}

// Detector scans content for weighted alignment-inversion patterns. All
// patterns are compiled at construction time, as in the teacher.
type Detector struct {
	patterns []weightedPattern
}

type rawPattern struct {
	name     string
	category string
	pattern  string
	weight   float64
}

// defaultPatterns seeds directly from the teacher's six prompt-injection
// patterns (repurposed here as alignment-inversion indicators, since a
// role hijack or instruction override is itself a Waluigi-effect signal)
// plus the additional patterns spec.md names by example.
var defaultPatterns = []rawPattern{
	{
		name:     "system_prompt_override",
		category: "prompt_injection",
		pattern:  `(?i)(?:ignore|disregard|forget)\s+(?:all\s+)?(?:previous|prior|above|earlier)\s+(?:instructions|prompts|rules|context)`,
		weight:   0.8,
	},
	{
		name:     "role_hijack",
		category: "prompt_injection",
		pattern:  `(?i)you\s+are\s+(?:now|actually|really)\s+(?:a|an|my)\s+`,
		weight:   0.6,
	},
	{
		name:     "instruction_injection",
		category: "prompt_injection",
		pattern:  `(?i)(?:new\s+instructions?|updated?\s+(?:instructions?|rules?|prompt)):\s*`,
		weight:   0.5,
	},
	{
		name:     "system_tag_injection",
		category: "delimiter_escape",
		pattern:  `(?i)<\s*(?:system|assistant|user|human|ai)\s*>`,
		weight:   0.4,
	},
	{
		name:     "delimiter_escape",
		category: "delimiter_escape",
		pattern:  "(?i)(?:```|---|\\.{3})\\s*(?:system|instructions?|rules?)\\s*(?:```|---|\\.{3})",
		weight:   0.4,
	},
	{
		name:     "jailbroken",
		category: "alignment_inversion",
		pattern:  `(?i)\bjailbroken\b`,
		weight:   0.9,
	},
	{
		name:     "evil_persona",
		category: "alignment_inversion",
		pattern:  `(?i)\bas\s+an\s+evil\b`,
		weight:   0.8,
	},
	{
		name:     "ignoring_guidelines",
		category: "alignment_inversion",
		pattern:  `(?i)ignoring\s+(?:my\s+)?guidelines`,
		weight:   0.85,
	},
	{
		name:     "do_anything_now",
		category: "alignment_inversion",
		pattern:  `(?i)(?:DAN|do\s+anything\s+now|jailbreak|ignore\s+safety)`,
		weight:   0.85,
	},
}

// ReversalBonus is added to the score when an earlier response in the
// session refused an action and the current one accepts the same action.
const ReversalBonus = 0.5

// NewDetector builds a Detector from the default weighted pattern set.
func NewDetector() *Detector {
	return NewDetectorWithPatterns(defaultPatterns)
}

// NewDetectorWithPatterns builds a Detector from a custom pattern set,
// letting operators extend or replace the seed table.
func NewDetectorWithPatterns(raw []rawPattern) *Detector {
	compiled := make([]weightedPattern, 0, len(raw))
	for _, rp := range raw {
		compiled = append(compiled, weightedPattern{
			name:     rp.name,
			category: rp.category,
			weight:   rp.weight,
			re:       regexp.MustCompile(rp.pattern),
		})
	}
	return &Detector{patterns: compiled}
}

// Scan runs all compiled patterns against content and applies the reversal
// heuristic if reversed is true (an earlier refusal followed by an accept
// of the same action). Score is the saturated sum of distinct pattern
// weights plus the reversal bonus, capped at 1.0.
func (d *Detector) Scan(content string, reversed bool) Assessment {
	if content == "" && !reversed {
		return Assessment{}
	}

	var matches []Match
	var sum float64
	for _, p := range d.patterns {
		locs := p.re.FindAllStringIndex(content, -1)
		if len(locs) == 0 {
			continue
		}
		sum += p.weight
		for _, loc := range locs {
			text := content[loc[0]:loc[1]]
			if len(text) > 100 {
				text = text[:100]
			}
			matches = append(matches, Match{
				PatternName:     p.name,
				PatternCategory: p.category,
				MatchedText:     text,
				Position:        loc[0],
				Weight:          p.weight,
			})
		}
	}

	var bonus float64
	if reversed {
		bonus = ReversalBonus
	}

	score := sum + bonus
	if score > 1.0 {
		score = 1.0
	}

	return Assessment{Score: score, MatchedPattern: matches, ReversalBonus: bonus}
}

// ScanJSON recursively scans JSON-compatible values for weighted
// alignment-inversion patterns, mirroring the teacher's ScanJSON recursion.
func (d *Detector) ScanJSON(v interface{}, reversed bool) Assessment {
	var matches []Match
	var sum float64
	d.scanValue(v, &matches, &sum)

	var bonus float64
	if reversed {
		bonus = ReversalBonus
	}
	score := sum + bonus
	if score > 1.0 {
		score = 1.0
	}
	return Assessment{Score: score, MatchedPattern: matches, ReversalBonus: bonus}
}

func (d *Detector) scanValue(v interface{}, matches *[]Match, sum *float64) {
	switch val := v.(type) {
	case string:
		a := d.Scan(val, false)
		if len(a.MatchedPattern) > 0 {
			*matches = append(*matches, a.MatchedPattern...)
			*sum += a.Score
		}
	case map[string]interface{}:
		for _, mv := range val {
			d.scanValue(mv, matches, sum)
		}
	case []interface{}:
		for _, item := range val {
			d.scanValue(item, matches, sum)
		}
	}
}
