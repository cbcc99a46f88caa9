package checkin

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/nexuspass/internal/model"
)

// ComputeStatistics aggregates a directory snapshot.
func ComputeStatistics(records []model.Attendee) model.Statistics {
	s := model.Statistics{Total: len(records)}
	for _, r := range records {
		if r.Attended {
			s.Attended++
		}
	}
	s.NotAttended = s.Total - s.Attended
	return s
}

// Breakdown returns the two wedges of the attendance chart.
func Breakdown(s model.Statistics) []model.Slice {
	return []model.Slice{
		slice("Attended", s.Attended, s.Total),
		slice("Not Attended", s.NotAttended, s.Total),
	}
}

func slice(label string, count, total int) model.Slice {
	pct := 0.0
	if total > 0 {
		pct = float64(count) * 100 / float64(total)
	}
	return model.Slice{
		Label:   label,
		Count:   count,
		Percent: pct,
		Caption: fmt.Sprintf("%.1f%%\n(%d)", pct, count),
	}
}

// Reporter reads the directory for the statistics page.
type Reporter struct {
	dir Directory
}

// NewReporter wires a Reporter.
func NewReporter(dir Directory) *Reporter {
	return &Reporter{dir: dir}
}

// Statistics loads every attendee and aggregates them.
func (r *Reporter) Statistics(ctx context.Context) (model.Statistics, error) {
	records, err := r.dir.List(ctx)
	if err != nil {
		return model.Statistics{}, storeErr("list attendees", err)
	}
	return ComputeStatistics(records), nil
}
