package usecase

import "context"

// Summary represents aggregated scan insights.
type Summary struct {
	TotalScans         int64            `json:"total_scans"`
	ClassifiedScans    int64            `json:"classified_scans"`
	ClassificationRate float64          `json:"classification_rate"`
	AverageConfidence  float64          `json:"average_confidence"`
	ByClass            map[string]int64 `json:"by_class"`
}

// GetSummary aggregates scan metrics from persisted rows.
func (uc *ScanUseCase) GetSummary(ctx context.Context) (*Summary, error) {
	aggregation, err := uc.repo.SummarizeScans(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		TotalScans:        aggregation.TotalScans,
		ClassifiedScans:   aggregation.ClassifiedScans,
		AverageConfidence: aggregation.AverageConfidence,
		ByClass:           aggregation.ByClass,
	}
	if summary.ByClass == nil {
		summary.ByClass = map[string]int64{}
	}

	if aggregation.TotalScans > 0 {
		summary.ClassificationRate = float64(aggregation.ClassifiedScans) / float64(aggregation.TotalScans)
	}

	return summary, nil
}
