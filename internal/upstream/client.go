package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dispatchsync/internal/config"
	"dispatchsync/internal/metrics"
	"dispatchsync/internal/models"
	"dispatchsync/internal/retry"

	"github.com/rs/zerolog"
)

const (
	endpointListTasks  = "get_all_tasks"
	endpointJobDetails = "get_job_details"

	statusOK     = 200
	statusNoData = 404
)

// ListRequest selects one page of one job type within a date window.
type ListRequest struct {
	JobType     int
	JobStatuses []int
	StartDate   string
	EndDate     string
	Offset      int
	Limit       int
}

// CustomField is one entry of a job's custom_field list.
type CustomField struct {
	Label       string `json:"label"`
	DisplayName string `json:"display_name"`
	Data        any    `json:"data"`
}

// JobDetail is the subset of get_job_details the pipeline reads.
type JobDetail struct {
	JobID        JobID         `json:"job_id"`
	CustomFields []CustomField `json:"custom_field"`
	Tags         *string       `json:"tags"`
}

// JobID accepts both numeric and quoted ids.
type JobID int64

func (id *JobID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid job_id %q: %w", s, err)
		}
		n = int64(f)
	}
	*id = JobID(n)
	return nil
}

type envelope struct {
	Message string          `json:"message"`
	Status  int             `json:"status"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to the dispatch API. Every call goes through the fetch retry policy.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retrier retry.Retrier
	logger  zerolog.Logger
}

// NewClient builds a client from a validated SyncConfig.
func NewClient(cfg config.SyncConfig, logger *zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Upstream.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "upstream").Logger()
	}

	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.Upstream.BaseURL), "/"),
		apiKey:  cfg.Upstream.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  l,
	}
	c.retrier = retry.Retrier{
		Policy: retry.Policy{
			MaxAttempts:   cfg.FetchRetry.MaxAttempts,
			InitialDelay:  cfg.FetchRetry.InitialDelay,
			MaxDelay:      cfg.FetchRetry.MaxDelay,
			BackoffFactor: cfg.FetchRetry.BackoffFactor,
		},
		Transient: IsTransient,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			metrics.IncRetry("fetch")
			c.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying upstream request")
		},
	}
	return c, nil
}

// ListTasks returns one page of tasks. An upstream "no data" answer is an empty page.
func (c *Client) ListTasks(ctx context.Context, req ListRequest) ([]models.RawTask, error) {
	body := map[string]any{
		"api_key":       c.apiKey,
		"job_type":      req.JobType,
		"job_status":    joinInts(req.JobStatuses),
		"start_date":    req.StartDate,
		"end_date":      req.EndDate,
		"is_pagination": 1,
		"offset":        req.Offset,
		"limit":         req.Limit,
	}

	return retry.DoValue(ctx, c.retrier, func(ctx context.Context) ([]models.RawTask, error) {
		data, err := c.call(ctx, endpointListTasks, body)
		if err != nil || data == nil {
			return nil, err
		}
		var tasks []models.RawTask
		if err := json.Unmarshal(data, &tasks); err != nil {
			metrics.IncUpstream(endpointListTasks, "malformed")
			return nil, fmt.Errorf("%s data: %w: %v", endpointListTasks, ErrMalformed, err)
		}
		return tasks, nil
	})
}

// GetJobDetails fetches custom fields and tags for a set of jobs.
func (c *Client) GetJobDetails(ctx context.Context, jobIDs []int64) ([]JobDetail, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"api_key":              c.apiKey,
		"job_ids":              jobIDs,
		"include_task_history": 0,
		"job_additional_info":  1,
	}

	return retry.DoValue(ctx, c.retrier, func(ctx context.Context) ([]JobDetail, error) {
		data, err := c.call(ctx, endpointJobDetails, body)
		if err != nil || data == nil {
			return nil, err
		}
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			metrics.IncUpstream(endpointJobDetails, "malformed")
			return nil, fmt.Errorf("%s data: %w: %v", endpointJobDetails, ErrMalformed, err)
		}
		details := make([]JobDetail, 0, len(items))
		for i, item := range items {
			var d JobDetail
			if err := json.Unmarshal(item, &d); err != nil {
				metrics.IncUpstream(endpointJobDetails, "malformed")
				c.logger.Warn().Err(err).Int("index", i).Msg("Skipping malformed job detail")
				continue
			}
			details = append(details, d)
		}
		return details, nil
	})
}

// UnmarshalJSON decodes one job detail. Only a bad job_id is an error; tags and
// custom_field in an unexpected shape are dropped so the job still syncs.
func (d *JobDetail) UnmarshalJSON(b []byte) error {
	var raw struct {
		JobID        JobID           `json:"job_id"`
		CustomFields json.RawMessage `json:"custom_field"`
		Tags         json.RawMessage `json:"tags"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*d = JobDetail{
		JobID:        raw.JobID,
		CustomFields: decodeCustomFields(raw.CustomFields),
		Tags:         decodeTags(raw.Tags),
	}
	return nil
}

func decodeCustomFields(b json.RawMessage) []CustomField {
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil || items == nil {
		return nil
	}
	fields := make([]CustomField, 0, len(items))
	for _, item := range items {
		var f CustomField
		if err := json.Unmarshal(item, &f); err != nil {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// decodeTags accepts a string, a list of strings or a number.
func decodeTags(b json.RawMessage) *string {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return &s
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		joined := strings.Join(list, ",")
		return &joined
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		s = n.String()
		return &s
	}
	return nil
}

// call performs one POST and unwraps the envelope. A nil result with a nil
// error means the upstream had no data.
func (c *Client) call(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncUpstream(endpoint, "error")
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncUpstream(endpoint, "error")
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		metrics.IncUpstream(endpoint, "empty")
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.IncUpstream(endpoint, "error")
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		metrics.IncUpstream(endpoint, "malformed")
		return nil, fmt.Errorf("%s: %w: %v", endpoint, ErrMalformed, err)
	}

	switch {
	case env.Status == statusNoData || isNoDataMessage(env.Message):
		metrics.IncUpstream(endpoint, "empty")
		return nil, nil
	case env.Status != statusOK:
		metrics.IncUpstream(endpoint, "error")
		return nil, &APIError{Endpoint: endpoint, Status: env.Status, Message: env.Message}
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		metrics.IncUpstream(endpoint, "empty")
		return nil, nil
	}
	metrics.IncUpstream(endpoint, "ok")
	return data, nil
}

func isNoDataMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "no data") || strings.Contains(msg, "no task") || strings.Contains(msg, "not found")
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
