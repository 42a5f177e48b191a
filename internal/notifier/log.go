package notifier

import (
	"log/slog"

	"github.com/amishk599/jobtracker/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes newly stored postings to the given logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs one line per record. It never fails.
func (n *LogNotifier) Notify(query model.Query, records []model.StoredRecord) error {
	for _, r := range records {
		n.logger.Info("new job",
			"query", query.Keyword,
			"id", r.ID,
			"external_id", r.ExternalID,
			"title", r.Title,
			"organisation", r.Organisation,
			"grade", r.Grade,
			"locations", r.Locations,
			"pay_min", r.Remuneration.Min,
			"pay_max", r.Remuneration.Max,
			"close_date", r.CloseDate,
			"url", r.SourceURI,
		)
	}
	return nil
}
