package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/amishk599/jobtracker/internal/model"
)

// USAJobsBaseURL is the public USAJobs search endpoint.
const USAJobsBaseURL = "https://data.usajobs.gov/api/search"

// SourceUSAJobs names the USAJobs source for rate limiting and logs.
const SourceUSAJobs = "usajobs"

const (
	defaultResultsPerPage = 500 // API maximum
	defaultMaxPages       = 10
	defaultConcurrency    = 3
)

// Waiter spaces outgoing requests. *ratelimit.SourceLimiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, source string) error
}

// usajobsResponse is the top-level USAJobs search API response. Items are kept
// raw so one undecodable item can be reported on its own.
type usajobsResponse struct {
	SearchResult struct {
		SearchResultCountAll int               `json:"SearchResultCountAll"`
		SearchResultItems    []json.RawMessage `json:"SearchResultItems"`
		UserArea             struct {
			NumberOfPages textValue `json:"NumberOfPages"`
		} `json:"UserArea"`
	} `json:"SearchResult"`
}

type usajobsItem struct {
	MatchedObjectID         string            `json:"MatchedObjectId"`
	MatchedObjectDescriptor usajobsDescriptor `json:"MatchedObjectDescriptor"`
}

type usajobsDescriptor struct {
	PositionID       string `json:"PositionID"`
	PositionTitle    string `json:"PositionTitle"`
	PositionURI      string `json:"PositionURI"`
	OrganizationName string `json:"OrganizationName"`
	DepartmentName   string `json:"DepartmentName"`
	PositionLocation []struct {
		LocationName string `json:"LocationName"`
	} `json:"PositionLocation"`
	JobGrade []struct {
		Code string `json:"Code"`
	} `json:"JobGrade"`
	PositionRemuneration []struct {
		MinimumRange textValue `json:"MinimumRange"`
		MaximumRange textValue `json:"MaximumRange"`
	} `json:"PositionRemuneration"`
	PositionStartDate    string `json:"PositionStartDate"`
	PositionEndDate      string `json:"PositionEndDate"`
	ApplicationCloseDate string `json:"ApplicationCloseDate"`
}

// textValue accepts a JSON string or number and keeps its text. USAJobs sends
// pay figures and page counts as strings, but not always.
type textValue string

func (v *textValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = textValue(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", data)
		}
		*v = textValue(n.String())
	}
	return nil
}

// USAJobsAdapter searches the USAJobs API. The first page reports how many
// pages exist; the rest are fetched concurrently.
type USAJobsAdapter struct {
	baseURL        string
	apiUser        string
	apiKey         string
	client         *http.Client
	resultsPerPage int
	maxPages       int
	concurrency    int
	limiter        Waiter
	logger         *slog.Logger
}

// Option customises a USAJobsAdapter.
type Option func(*USAJobsAdapter)

func WithResultsPerPage(n int) Option {
	return func(a *USAJobsAdapter) {
		if n > 0 {
			a.resultsPerPage = n
		}
	}
}

// WithMaxPages caps how many pages one search reads.
func WithMaxPages(n int) Option {
	return func(a *USAJobsAdapter) {
		if n > 0 {
			a.maxPages = n
		}
	}
}

// WithConcurrency bounds in-flight page requests.
func WithConcurrency(n int) Option {
	return func(a *USAJobsAdapter) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithLimiter makes every page request wait on l first.
func WithLimiter(l Waiter) Option {
	return func(a *USAJobsAdapter) { a.limiter = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *USAJobsAdapter) { a.logger = l }
}

// NewUSAJobsAdapter creates an adapter authenticating with the given API user
// (sent as User-Agent) and key.
func NewUSAJobsAdapter(baseURL, apiUser, apiKey string, client *http.Client, opts ...Option) *USAJobsAdapter {
	if baseURL == "" {
		baseURL = USAJobsBaseURL
	}
	a := &USAJobsAdapter{
		baseURL:        baseURL,
		apiUser:        apiUser,
		apiKey:         apiKey,
		client:         client,
		resultsPerPage: defaultResultsPerPage,
		maxPages:       defaultMaxPages,
		concurrency:    defaultConcurrency,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ model.Searcher = (*USAJobsAdapter)(nil)

// Search returns every listing matching params across all pages, in page
// order. A non-200 response fails the whole search with *model.HTTPError.
func (a *USAJobsAdapter) Search(ctx context.Context, params model.SearchParams) ([]model.RawListing, error) {
	first, pages, err := a.fetchPage(ctx, params, 1)
	if err != nil {
		return nil, err
	}

	if pages > a.maxPages {
		a.logger.Warn("usajobs result truncated", "pages", pages, "max_pages", a.maxPages)
		pages = a.maxPages
	}
	if pages <= 1 {
		return first, nil
	}

	results := make([][]model.RawListing, pages)
	results[0] = first

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for page := 2; page <= pages; page++ {
		g.Go(func() error {
			listings, _, err := a.fetchPage(gctx, params, page)
			if err != nil {
				return err
			}
			results[page-1] = listings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.RawListing
	for _, listings := range results {
		all = append(all, listings...)
	}
	return all, nil
}

func (a *USAJobsAdapter) fetchPage(ctx context.Context, params model.SearchParams, page int) ([]model.RawListing, int, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, SourceUSAJobs); err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+a.query(params, page).Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("usajobs search page %d: %w", page, err)
	}
	req.Header.Set("User-Agent", a.apiUser)
	req.Header.Set("Authorization-Key", a.apiKey)
	req.Header.Set("Accept", "application/json")

	a.logger.Debug("usajobs request", "page", page, "keyword", params.Keyword, "location", params.Location)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("usajobs search page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("usajobs search page %d: %s", page, strings.TrimSpace(string(snippet))),
		}
	}

	var body usajobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, 0, fmt.Errorf("usajobs search page %d: decoding response: %w", page, err)
	}

	if page == 1 {
		a.logger.Debug("usajobs search matched", "total", body.SearchResult.SearchResultCountAll, "pages", string(body.SearchResult.UserArea.NumberOfPages))
	}

	listings := make([]model.RawListing, 0, len(body.SearchResult.SearchResultItems))
	for i, raw := range body.SearchResult.SearchResultItems {
		listing, err := decodeItem(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("usajobs search page %d item %d: %w", page, i, err)
		}
		listings = append(listings, listing)
	}

	pages := 1
	if n, err := strconv.Atoi(strings.TrimSpace(string(body.SearchResult.UserArea.NumberOfPages))); err == nil && n > 0 {
		pages = n
	}
	return listings, pages, nil
}

func (a *USAJobsAdapter) query(params model.SearchParams, page int) url.Values {
	q := url.Values{}
	q.Set("keyword", params.Keyword)
	q.Set("LocationName", params.Location)
	if params.Role != "" {
		q.Set("PositionTitle", params.Role)
	}
	if params.MinPay != nil {
		q.Set("RemunerationMinimumAmount", strconv.Itoa(*params.MinPay))
	}
	if params.MaxPay != nil {
		q.Set("RemunerationMaximumAmount", strconv.Itoa(*params.MaxPay))
	}
	q.Set("ResultsPerPage", strconv.Itoa(a.resultsPerPage))
	q.Set("Page", strconv.Itoa(page))
	return q
}

// decodeItem maps one search result item into a RawListing. Missing fields are
// left empty for the normalizer to reject; an item whose shape cannot be
// decoded at all is reported as malformed here.
func decodeItem(raw json.RawMessage) (model.RawListing, error) {
	var item usajobsItem
	if err := json.Unmarshal(raw, &item); err != nil {
		var probe struct {
			MatchedObjectID string `json:"MatchedObjectId"`
		}
		_ = json.Unmarshal(raw, &probe)
		var typeErr *json.UnmarshalTypeError
		field := "MatchedObjectDescriptor"
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			field = typeErr.Field
		}
		return model.RawListing{}, &model.MalformedRecordError{ExternalID: probe.MatchedObjectID, Field: field, Reason: err.Error()}
	}

	d := item.MatchedObjectDescriptor
	listing := model.RawListing{
		ExternalID:   d.PositionID,
		Title:        d.PositionTitle,
		Organisation: d.OrganizationName,
		Department:   d.DepartmentName,
		StartDate:    d.PositionStartDate,
		EndDate:      d.PositionEndDate,
		CloseDate:    d.ApplicationCloseDate,
		URI:          d.PositionURI,
	}
	for _, g := range d.JobGrade {
		listing.Grades = append(listing.Grades, g.Code)
	}
	for _, l := range d.PositionLocation {
		listing.Locations = append(listing.Locations, l.LocationName)
	}
	for _, r := range d.PositionRemuneration {
		listing.Remuneration = append(listing.Remuneration, model.RawRemuneration{
			Min: string(r.MinimumRange),
			Max: string(r.MaximumRange),
		})
	}
	return listing, nil
}
