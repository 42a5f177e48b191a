// Package normalize turns raw source listings into canonical job records.
package normalize

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/amishk599/jobtracker/internal/model"
)

const dateLayout = "2006-01-02"

// Normalize maps one raw listing into a canonical record. Only locations that
// contain location as a case-sensitive substring are kept. FetchedAt is left
// zero; the reconciliation engine assigns it.
func Normalize(raw model.RawListing, location string) (model.JobRecord, error) {
	if err := requireText(raw, "external_id", raw.ExternalID); err != nil {
		return model.JobRecord{}, err
	}
	if err := requireText(raw, "title", raw.Title); err != nil {
		return model.JobRecord{}, err
	}
	if err := requireText(raw, "organisation", raw.Organisation); err != nil {
		return model.JobRecord{}, err
	}
	if err := requireText(raw, "source_uri", raw.URI); err != nil {
		return model.JobRecord{}, err
	}
	if len(raw.Grades) == 0 || strings.TrimSpace(raw.Grades[0]) == "" {
		return model.JobRecord{}, malformed(raw, "grade", "is required")
	}

	pay, err := parseRemuneration(raw)
	if err != nil {
		return model.JobRecord{}, err
	}

	start, err := parseDate(raw, "start_date", raw.StartDate)
	if err != nil {
		return model.JobRecord{}, err
	}
	end, err := parseDate(raw, "end_date", raw.EndDate)
	if err != nil {
		return model.JobRecord{}, err
	}
	closing, err := parseDate(raw, "close_date", raw.CloseDate)
	if err != nil {
		return model.JobRecord{}, err
	}

	return model.JobRecord{
		ExternalID:   raw.ExternalID,
		Title:        raw.Title,
		Organisation: raw.Organisation,
		Department:   raw.Department,
		Grade:        raw.Grades[0],
		Locations:    FilterLocations(raw.Locations, location),
		Remuneration: pay,
		StartDate:    start.Format(dateLayout),
		CloseDate:    closing.Format(dateLayout),
		DurationDays: DurationDays(start, end),
		SourceURI:    raw.URI,
	}, nil
}

// FilterLocations keeps the names containing query, collapsing duplicates.
// The result is sorted so equal sets compare equal.
func FilterLocations(names []string, query string) []string {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if strings.Contains(name, query) {
			set[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TruncateDate returns the calendar date of a source timestamp. Everything from
// the first "T" on is discarded, so time of day and zone never shift the date.
func TruncateDate(value string) (time.Time, error) {
	datePart, _, _ := strings.Cut(strings.TrimSpace(value), "T")
	return time.Parse(dateLayout, datePart)
}

// DurationDays is whole-calendar-day subtraction of two date-only values.
// It works on Unix seconds so dates centuries apart do not overflow a Duration.
func DurationDays(start, end time.Time) int {
	return int((end.UTC().Unix() - start.UTC().Unix()) / 86400)
}

func parseRemuneration(raw model.RawListing) (model.RemunerationRange, error) {
	if len(raw.Remuneration) == 0 {
		return model.RemunerationRange{}, malformed(raw, "remuneration_range", "is required")
	}
	band := raw.Remuneration[0]
	lo, err := strconv.ParseFloat(strings.TrimSpace(band.Min), 64)
	if err != nil {
		return model.RemunerationRange{}, malformed(raw, "remuneration_range.min", "is not a number: "+strconv.Quote(band.Min))
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(band.Max), 64)
	if err != nil {
		return model.RemunerationRange{}, malformed(raw, "remuneration_range.max", "is not a number: "+strconv.Quote(band.Max))
	}
	return model.RemunerationRange{Min: lo, Max: hi}, nil
}

func parseDate(raw model.RawListing, field, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, malformed(raw, field, "is required")
	}
	d, err := TruncateDate(value)
	if err != nil {
		return time.Time{}, malformed(raw, field, "is not a date: "+strconv.Quote(value))
	}
	return d, nil
}

func requireText(raw model.RawListing, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return malformed(raw, field, "is required")
	}
	return nil
}

func malformed(raw model.RawListing, field, reason string) error {
	return &model.MalformedRecordError{ExternalID: raw.ExternalID, Field: field, Reason: reason}
}
