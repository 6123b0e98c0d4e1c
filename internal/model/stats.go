package model

import "sort"

// BuildAlertStats folds grouped alert counts into an AlertStats summary.
// Categories are sorted by name.
func BuildAlertStats(rows []AlertCount) AlertStats {
	var stats AlertStats
	byType := make(map[Category]*CategoryStat)

	for _, row := range rows {
		stats.Summary.Total += row.Count

		switch row.Status {
		case StatusActive:
			stats.Summary.Active += row.Count
			switch row.Severity {
			case SeverityCritical:
				stats.Summary.CriticalActive += row.Count
			case SeverityHigh:
				stats.Summary.HighActive += row.Count
			case SeverityMedium:
				stats.Summary.MediumActive += row.Count
			case SeverityLow:
				stats.Summary.LowActive += row.Count
			}
		case StatusAcknowledged:
			stats.Summary.Acknowledged += row.Count
		case StatusResolved:
			stats.Summary.Resolved += row.Count
		}

		entry, ok := byType[row.Category]
		if !ok {
			entry = &CategoryStat{Category: row.Category}
			byType[row.Category] = entry
		}
		entry.Count += row.Count
		if row.Status == StatusActive {
			entry.ActiveCount += row.Count
		}
	}

	stats.ByType = make([]CategoryStat, 0, len(byType))
	for _, entry := range byType {
		stats.ByType = append(stats.ByType, *entry)
	}
	sort.Slice(stats.ByType, func(i, j int) bool {
		return stats.ByType[i].Category < stats.ByType[j].Category
	})

	return stats
}
