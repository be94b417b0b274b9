package toggl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.track.toggl.com"

	reportsSearchPathFormat = "/reports/api/v3/workspace/%s/search/time_entries"
	currentEntryPath        = "/api/v9/me/time_entries/current"
	relatedDataPath         = "/api/v9/me?with_related_data=true"

	continuationHeader = "X-Next-ID"
	basicAuthPassword  = "api_token"

	defaultReportTimeout = 30 * time.Second
	defaultLookupTimeout = 10 * time.Second

	maxErrorBodyBytes = 8 << 10
)

var (
	// ErrMissingAPIToken indicates that no Toggl API token is configured.
	ErrMissingAPIToken = errors.New("toggl: api token is required")
	// ErrMissingWorkspaceID indicates that no Toggl workspace is configured.
	ErrMissingWorkspaceID = errors.New("toggl: workspace id is required")
)

// RemoteError reports a non-success response from the Toggl API.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("toggl: request failed with status %d: %s", e.StatusCode, e.Body)
}

// ClientConfig bundles configuration for the Toggl API client. Credentials
// may be left empty at construction; operations that need them fail before
// any network traffic.
type ClientConfig struct {
	APIToken      string
	WorkspaceID   string
	BaseURL       string
	HTTPClient    *http.Client
	Logger        *zap.Logger
	ReportTimeout time.Duration
	LookupTimeout time.Duration
}

// Client talks to the Toggl detailed-reports and v9 APIs.
type Client struct {
	apiToken      string
	workspaceID   string
	baseURL       string
	httpClient    *http.Client
	logger        *zap.Logger
	reportTimeout time.Duration
	lookupTimeout time.Duration
}

// NewClient constructs a Toggl API client with defaults applied.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reportTimeout := cfg.ReportTimeout
	if reportTimeout <= 0 {
		reportTimeout = defaultReportTimeout
	}

	lookupTimeout := cfg.LookupTimeout
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}

	return &Client{
		apiToken:      strings.TrimSpace(cfg.APIToken),
		workspaceID:   strings.TrimSpace(cfg.WorkspaceID),
		baseURL:       baseURL,
		httpClient:    httpClient,
		logger:        logger,
		reportTimeout: reportTimeout,
		lookupTimeout: lookupTimeout,
	}
}

// ReportRequest is the detailed-reports search payload. FirstID carries the
// continuation cursor returned by the previous page.
type ReportRequest struct {
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	PageSize       int64  `json:"page_size"`
	EnrichResponse bool   `json:"enrich_response"`
	Grouped        bool   `json:"grouped"`
	FirstID        *int64 `json:"first_id,omitempty"`
}

// ReportGroup is one grouped record from the detailed report: shared entry
// metadata plus the individual time entries that share it.
type ReportGroup struct {
	ProjectID   int64             `json:"project_id"`
	ProjectName string            `json:"project_name"`
	Description string            `json:"description"`
	TagIDs      []int64           `json:"tag_ids"`
	TagNames    []string          `json:"tag_names"`
	TimeEntries []ReportTimeEntry `json:"time_entries"`
}

// ReportTimeEntry is one concrete tracked interval inside a grouped record.
type ReportTimeEntry struct {
	ID      int64   `json:"id"`
	Start   string  `json:"start"`
	Stop    *string `json:"stop"`
	Seconds int64   `json:"seconds"`
	At      string  `json:"at"`
}

// ReportPage is one page of grouped records. NextID is nil on the final page.
type ReportPage struct {
	Groups []ReportGroup
	NextID *int64
}

// SearchTimeEntries fetches one page of the detailed report for the requested
// date range.
func (c *Client) SearchTimeEntries(ctx context.Context, request ReportRequest) (*ReportPage, error) {
	if err := c.requireReportConfig(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.reportTimeout)
	defer cancel()

	url := c.baseURL + fmt.Sprintf(reportsSearchPathFormat, c.workspaceID)
	httpRequest, err := http.NewRequestWithContext(requestCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.SetBasicAuth(c.apiToken, basicAuthPassword)

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, newRemoteError(response)
	}

	page := &ReportPage{}
	if err := json.NewDecoder(response.Body).Decode(&page.Groups); err != nil {
		return nil, fmt.Errorf("toggl: decoding report page: %w", err)
	}

	if cursor := response.Header.Get(continuationHeader); cursor != "" {
		nextID, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("toggl: invalid continuation header %q: %w", cursor, err)
		}
		page.NextID = &nextID
	}

	return page, nil
}

// CurrentEntry is the running time entry returned by the v9 API. ProjectName
// is not part of the upstream payload; callers resolve and attach it.
type CurrentEntry struct {
	ID          int64    `json:"id"`
	WorkspaceID int64    `json:"workspace_id"`
	ProjectID   *int64   `json:"project_id"`
	Description string   `json:"description"`
	Start       string   `json:"start"`
	Stop        *string  `json:"stop"`
	Duration    int64    `json:"duration"`
	At          string   `json:"at"`
	TagIDs      []int64  `json:"tag_ids"`
	Tags        []string `json:"tags"`
	ProjectName string   `json:"project_name"`
}

// FetchCurrentEntry returns the entry currently being tracked, or nil when
// the timer is idle.
func (c *Client) FetchCurrentEntry(ctx context.Context) (*CurrentEntry, error) {
	if c.apiToken == "" {
		return nil, ErrMissingAPIToken
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(requestCtx, http.MethodGet, c.baseURL+currentEntryPath, nil)
	if err != nil {
		return nil, err
	}
	httpRequest.SetBasicAuth(c.apiToken, basicAuthPassword)

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, newRemoteError(response)
	}

	var entry *CurrentEntry
	if err := json.NewDecoder(response.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("toggl: decoding current entry: %w", err)
	}

	return entry, nil
}

type workspaceProject struct {
	ID   *int64  `json:"id"`
	Name *string `json:"name"`
}

type relatedDataDocument struct {
	Projects []workspaceProject `json:"projects"`
}

// FetchProjects returns the id-to-name map for every project visible to the
// account. Entries missing an id or name are skipped rather than failing the
// whole fetch.
func (c *Client) FetchProjects(ctx context.Context) (map[int64]string, error) {
	if err := c.requireReportConfig(); err != nil {
		return nil, err
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(requestCtx, http.MethodGet, c.baseURL+relatedDataPath, nil)
	if err != nil {
		return nil, err
	}
	httpRequest.SetBasicAuth(c.apiToken, basicAuthPassword)

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, newRemoteError(response)
	}

	var document relatedDataDocument
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return nil, fmt.Errorf("toggl: decoding related data: %w", err)
	}

	names := make(map[int64]string, len(document.Projects))
	for _, project := range document.Projects {
		if project.ID == nil || project.Name == nil {
			c.logger.Debug("skipping project entry without id or name")
			continue
		}
		names[*project.ID] = *project.Name
	}

	return names, nil
}

func (c *Client) requireReportConfig() error {
	if c.apiToken == "" {
		return ErrMissingAPIToken
	}
	if c.workspaceID == "" {
		return ErrMissingWorkspaceID
	}
	return nil
}

func newRemoteError(response *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	return &RemoteError{
		StatusCode: response.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
