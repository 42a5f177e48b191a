package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amishk599/jobtracker/internal/model"
)

// Ensure SlackNotifier implements model.Notifier.
var _ model.Notifier = (*SlackNotifier)(nil)

const defaultSlackPacing = 500 * time.Millisecond

// SlackNotifier posts new postings to a Slack channel via Incoming Webhooks.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
	pacing     time.Duration // pause between messages
}

// NewSlackNotifier returns a notifier that posts each record to Slack.
func NewSlackNotifier(webhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
		pacing:     defaultSlackPacing,
	}
}

// Notify sends each record as a separate Block Kit message.
// Returns an error only if ALL messages fail. Individual failures are logged.
func (s *SlackNotifier) Notify(query model.Query, records []model.StoredRecord) error {
	if len(records) == 0 {
		return nil
	}

	failures := 0
	for i, r := range records {
		if i > 0 && s.pacing > 0 {
			time.Sleep(s.pacing)
		}
		if err := s.send(buildPayload(query, r)); err != nil {
			s.logger.Error("slack notification failed", "external_id", r.ExternalID, "title", r.Title, "error", err)
			failures++
		}
	}

	if failures == len(records) {
		return fmt.Errorf("all %d slack notifications failed", failures)
	}
	s.logger.Info("slack notifications complete", "sent", len(records)-failures, "failed", failures)
	return nil
}

// send posts one payload, retrying once when Slack rate limits.
func (s *SlackNotifier) send(payload slackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	status, retryAfter, err := s.post(body)
	if err != nil {
		return err
	}
	if status == http.StatusTooManyRequests {
		s.logger.Warn("slack rate limited, retrying", "retry_after", retryAfter)
		time.Sleep(retryAfter)
		if status, _, err = s.post(body); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}
	if status != http.StatusOK {
		return fmt.Errorf("slack returned %d", status)
	}
	return nil
}

func (s *SlackNotifier) post(body []byte) (int, time.Duration, error) {
	resp, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
	if secs <= 0 {
		secs = 1
	}
	return resp.StatusCode, time.Duration(secs) * time.Second, nil
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Fields   []slackText    `json:"fields,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackElement struct {
	Type  string     `json:"type"`
	Text  *slackText `json:"text,omitempty"`
	URL   string     `json:"url,omitempty"`
	Style string     `json:"style,omitempty"`
}

// SendTestMessage sends a sample posting to verify the integration works.
func SendTestMessage(n model.Notifier) error {
	sample := model.StoredRecord{
		ID: "test-001",
		JobRecord: model.JobRecord{
			ExternalID:   "TEST-0001",
			Title:        "Test Notification",
			Organisation: "jobtracker",
			Department:   "Integration Check",
			Grade:        "GS",
			Locations:    []string{"Everywhere"},
			Remuneration: model.RemunerationRange{Min: 100000, Max: 150000},
			StartDate:    time.Now().Format("2006-01-02"),
			CloseDate:    time.Now().AddDate(0, 1, 0).Format("2006-01-02"),
			DurationDays: 365,
			SourceURI:    "https://www.usajobs.gov/",
			FetchedAt:    time.Now().UTC(),
		},
	}
	return n.Notify(model.Query{Location: "Everywhere", Keyword: "integration test"}, []model.StoredRecord{sample})
}

func formatPay(r model.RemunerationRange) string {
	return "$" + strconv.FormatFloat(r.Min, 'f', -1, 64) + " to $" + strconv.FormatFloat(r.Max, 'f', -1, 64)
}

func buildPayload(query model.Query, r model.StoredRecord) slackPayload {
	locations := strings.Join(r.Locations, "; ")
	if locations == "" {
		locations = query.Location
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: "📌 " + r.Title + " at " + r.Organisation},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Department:*\n" + r.Department},
				{Type: "mrkdwn", Text: "*Grade:*\n" + r.Grade},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Location:*\n" + locations},
				{Type: "mrkdwn", Text: "*Pay:*\n" + formatPay(r.Remuneration)},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Closes:*\n" + r.CloseDate},
				{Type: "mrkdwn", Text: "*Duration:*\n" + strconv.Itoa(r.DurationDays) + " days"},
			},
		},
		{
			Type: "actions",
			Elements: []slackElement{
				{
					Type:  "button",
					Text:  &slackText{Type: "plain_text", Text: "View Posting"},
					URL:   r.SourceURI,
					Style: "primary",
				},
			},
		},
		{Type: "divider"},
	}
	return slackPayload{Blocks: blocks}
}
