package app

import (
	"context"
)

// StatsService provides statistics queries over the decision log.
type StatsService struct {
	store *SQLiteStore
}

// NewStatsService creates a new StatsService.
func NewStatsService(store *SQLiteStore) *StatsService {
	return &StatsService{store: store}
}

// GetDecisionStats returns counts by result and reason.
func (s *StatsService) GetDecisionStats(ctx context.Context) (*DecisionLogStats, error) {
	return s.store.GetDecisionLogStats(ctx)
}

// GetSummary returns a flattened summary of the decision log.
func (s *StatsService) GetSummary(ctx context.Context) (map[string]interface{}, error) {
	stats, err := s.store.GetDecisionLogStats(ctx)
	if err != nil {
		return nil, err
	}
	summary := map[string]interface{}{
		"total_decisions": stats.Total,
		"blocked":         stats.Blocked,
		"allowed":         stats.Allowed,
	}
	for reason, count := range stats.ByReason {
		if reason == "" {
			reason = "unknown"
		}
		summary["reason_"+reason] = count
	}
	return summary, nil
}

// RecentDecisions returns the newest entries of the decision log.
func (s *StatsService) RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	records, err := s.store.ListDecisionRecords(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
