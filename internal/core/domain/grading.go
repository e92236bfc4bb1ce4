package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type RubricBand struct {
	LevelName   string  `json:"level_name"`
	Description string  `json:"description"`
	MinScore    float64 `json:"min_score"`
	MaxScore    float64 `json:"max_score"`
}

func (b RubricBand) Contains(score float64) bool {
	return score >= b.MinScore && score <= b.MaxScore
}

type Dimension struct {
	ID       int64        `json:"id"`
	Name     string       `json:"name"`
	MaxScore float64      `json:"max_score"`
	Rubrics  []RubricBand `json:"rubrics"`
}

// SortedRubrics returns the bands ordered by max score, highest first.
func (d Dimension) SortedRubrics() []RubricBand {
	out := append([]RubricBand(nil), d.Rubrics...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MaxScore > out[j].MaxScore
	})
	return out
}

// SelectBand picks the band for score. Overlapping bounds resolve to the
// higher band; a score outside every band resolves to the nearest one.
func (d Dimension) SelectBand(score float64) (RubricBand, bool) {
	bands := d.SortedRubrics()
	if len(bands) == 0 {
		return RubricBand{}, false
	}
	for _, band := range bands {
		if band.Contains(score) {
			return band, true
		}
	}
	best := bands[0]
	bestDist := math.Inf(1)
	for _, band := range bands {
		dist := math.Min(math.Abs(score-band.MinScore), math.Abs(score-band.MaxScore))
		if dist < bestDist {
			best, bestDist = band, dist
		}
	}
	return best, true
}

type GradingStandard struct {
	ID           int64       `json:"id"`
	Title        string      `json:"title"`
	TotalScore   float64     `json:"total_score"`
	GradeLevelID *int64      `json:"grade_level_id,omitempty"`
	Dimensions   []Dimension `json:"dimensions"`
}

type ImprovementSuggestion struct {
	Original  string `json:"original"`
	Suggested string `json:"suggested"`
}

type DimensionResult struct {
	DimensionName                string                 `json:"dimension_name"`
	Score                        float64                `json:"score"`
	SelectedRubricLevel          string                 `json:"selected_rubric_level"`
	Feedback                     string                 `json:"feedback"`
	ExampleGoodSentence          string                 `json:"example_good_sentence,omitempty"`
	ExampleImprovementSuggestion *ImprovementSuggestion `json:"example_improvement_suggestion,omitempty"`
}

// GradingResult is the structured score persisted as an essay's ai_score.
type GradingResult struct {
	TotalScore     float64           `json:"total_score"`
	OverallComment string            `json:"overall_comment"`
	Strengths      []string          `json:"strengths"`
	Improvements   []string          `json:"improvements"`
	Dimensions     []DimensionResult `json:"dimensions"`
}

// Normalize aligns a model result with the standard: dimensions follow the
// standard's order, scores are clamped to each dimension's maximum, the rubric
// level is derived from the score and the total is recomputed from the parts.
func (s GradingStandard) Normalize(result GradingResult) (GradingResult, error) {
	if len(s.Dimensions) == 0 {
		return GradingResult{}, fmt.Errorf("grading standard %d has no dimensions", s.ID)
	}

	byName := make(map[string]DimensionResult, len(result.Dimensions))
	for _, dim := range result.Dimensions {
		byName[normalizeName(dim.DimensionName)] = dim
	}

	out := GradingResult{
		OverallComment: strings.TrimSpace(result.OverallComment),
		Strengths:      nonNilStrings(result.Strengths),
		Improvements:   nonNilStrings(result.Improvements),
		Dimensions:     make([]DimensionResult, 0, len(s.Dimensions)),
	}
	total := 0.0
	for _, dim := range s.Dimensions {
		got, ok := byName[normalizeName(dim.Name)]
		if !ok {
			return GradingResult{}, fmt.Errorf("missing score for dimension %q", dim.Name)
		}
		if math.IsNaN(got.Score) || math.IsInf(got.Score, 0) {
			return GradingResult{}, fmt.Errorf("invalid score for dimension %q", dim.Name)
		}
		got.DimensionName = dim.Name
		got.Score = clamp(got.Score, 0, dim.MaxScore)
		if band, ok := dim.SelectBand(got.Score); ok {
			got.SelectedRubricLevel = band.LevelName
		}
		total += got.Score
		out.Dimensions = append(out.Dimensions, got)
	}
	out.TotalScore = total
	return out, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
