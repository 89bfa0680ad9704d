package eval

import "time"

type Outcome struct {
	CaseID               string        `json:"case_id"`
	Category             Category      `json:"category"`
	NaturalLanguageQuery string        `json:"natural_language_query"`
	ExpectedQuery        string        `json:"expected_query"`
	GeneratedQuery       string        `json:"generated_query,omitempty"`
	NormalizedQuery      string        `json:"normalized_query,omitempty"`
	Matched              bool          `json:"matched"`
	Executed             bool          `json:"executed"`
	Outcome              string        `json:"outcome"`
	Error                string        `json:"error,omitempty"`
	RowCount             int           `json:"row_count"`
	GenerationLatency    time.Duration `json:"-"`
	ExecutionLatency     time.Duration `json:"-"`
	GenerationLatencyMS  float64       `json:"generation_latency_ms"`
	ExecutionLatencyMS   float64       `json:"execution_latency_ms"`
}

type CategoryStats struct {
	Total             int     `json:"total"`
	Matched           int     `json:"matched"`
	Executed          int     `json:"executed"`
	MatchAccuracy     float64 `json:"match_accuracy"`
	ExecutionAccuracy float64 `json:"execution_accuracy"`
}

type Totals struct {
	CategoryStats
	Failed                  int     `json:"failed"`
	MeanGenerationLatencyMS float64 `json:"mean_generation_latency_ms"`
}

// Report is immutable once returned by Run.
type Report struct {
	RunID      string                     `json:"run_id"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Outcomes   []Outcome                  `json:"outcomes"`
	Categories map[Category]CategoryStats `json:"categories"`
	Totals     Totals                     `json:"totals"`
}

func buildReport(runID string, startedAt, finishedAt time.Time, outcomes []Outcome) Report {
	report := Report{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Outcomes:   outcomes,
		Categories: make(map[Category]CategoryStats, len(Categories)),
	}
	for _, category := range Categories {
		report.Categories[category] = CategoryStats{}
	}

	var generated int
	var generationTotal time.Duration
	for i := range outcomes {
		outcome := &outcomes[i]
		outcome.GenerationLatencyMS = durationMS(outcome.GenerationLatency)
		outcome.ExecutionLatencyMS = durationMS(outcome.ExecutionLatency)
		if outcome.GeneratedQuery != "" {
			generated++
			generationTotal += outcome.GenerationLatency
		}

		stats := report.Categories[outcome.Category]
		stats.add(*outcome)
		report.Categories[outcome.Category] = stats
		report.Totals.add(*outcome)
		if outcome.Outcome != OutcomeOK {
			report.Totals.Failed++
		}
	}
	for category, stats := range report.Categories {
		stats.finish()
		report.Categories[category] = stats
	}
	report.Totals.finish()
	if generated > 0 {
		report.Totals.MeanGenerationLatencyMS = durationMS(generationTotal) / float64(generated)
	}
	return report
}

func (s *CategoryStats) add(outcome Outcome) {
	s.Total++
	if outcome.Matched {
		s.Matched++
	}
	if outcome.Executed {
		s.Executed++
	}
}

// finish computes accuracies; an empty category scores zero.
func (s *CategoryStats) finish() {
	if s.Total == 0 {
		return
	}
	s.MatchAccuracy = float64(s.Matched) / float64(s.Total)
	s.ExecutionAccuracy = float64(s.Executed) / float64(s.Total)
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
