package notifier

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/amishk599/jobtracker/internal/model"
)

func TestLogNotifier_Notify_zeroRecords(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := n.Notify(chicago(), nil); err != nil {
		t.Errorf("Notify(nil) = %v, want nil", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestLogNotifier_Notify_logsEachRecord(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	records := []model.StoredRecord{sampleRecord("Data Engineer", "Census"), sampleRecord("Analyst", "NOAA")}
	if err := n.Notify(chicago(), records); err != nil {
		t.Errorf("Notify = %v, want nil", err)
	}

	out := buf.String()
	if got := strings.Count(out, "msg=\"new job\""); got != 2 {
		t.Errorf("expected 2 log lines, got %d: %s", got, out)
	}
	if !strings.Contains(out, "external_id=CB-1234") || !strings.Contains(out, "organisation=NOAA") {
		t.Errorf("missing record fields in %s", out)
	}
}
