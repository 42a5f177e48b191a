package tracker

import (
	"encoding/json"

	"github.com/amishk599/jobtracker/internal/model"
)

// Report is the caller-facing summary of one fetch cycle.
type Report struct {
	CycleID  string               `json:"cycle_id"`
	Found    int                  `json:"found"`
	Inserted int                  `json:"inserted"`
	Retired  int                  `json:"updated"` // stale duplicates deleted
	Failed   []FailedRecord       `json:"failed,omitempty"`
	Results  []model.StoredRecord `json:"results"`
}

// FailedRecord is a record the store refused during the insert step.
type FailedRecord struct {
	ExternalID string `json:"external_id"`
	Error      string `json:"error"`
}

// MarshalJSON renders a cycle that found nothing as exactly
// {"found":0,"results":null}.
func (r Report) MarshalJSON() ([]byte, error) {
	if r.Found == 0 {
		return json.Marshal(struct {
			Found   int  `json:"found"`
			Results *int `json:"results"`
		}{})
	}
	type plain Report
	return json.Marshal(plain(r))
}

// Empty reports whether the cycle short-circuited on a zero-result search.
func (r Report) Empty() bool { return r.Found == 0 }

func failedRecords(failures []model.InsertFailure) []FailedRecord {
	if len(failures) == 0 {
		return nil
	}
	out := make([]FailedRecord, len(failures))
	for i, f := range failures {
		out[i] = FailedRecord{ExternalID: f.ExternalID, Error: f.Err.Error()}
	}
	return out
}
