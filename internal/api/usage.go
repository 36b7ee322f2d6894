package api

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultPageSize  = 50
	defaultSortBy    = "start_time"
	defaultSortOrder = "desc"
)

// RequestQuery filters the usage request listing. Zero values are omitted.
type RequestQuery struct {
	Page      int
	Limit     int
	StartTime time.Time
	EndTime   time.Time
	Status    string
	Model     string
	Endpoint  string
	Group     string
	SortBy    string
	SortOrder string
}

// Values encodes the query. The backend paginates by offset; "all" filters
// are dropped and ordering defaults to start_time descending.
func (q RequestQuery) Values() url.Values {
	v := url.Values{}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	v.Set("limit", strconv.Itoa(limit))
	if q.Page > 1 {
		v.Set("offset", strconv.Itoa((q.Page-1)*limit))
	}

	if !q.StartTime.IsZero() {
		v.Set("start_date", q.StartTime.Format(time.RFC3339))
	}
	if !q.EndTime.IsZero() {
		v.Set("end_date", q.EndTime.Format(time.RFC3339))
	}
	setIf(v, "status", q.Status)
	setIf(v, "model", q.Model)
	setIf(v, "endpoint", q.Endpoint)
	setIf(v, "group", q.Group)

	v.Set("sort_by", firstNonEmpty(q.SortBy, defaultSortBy))
	v.Set("sort_order", firstNonEmpty(q.SortOrder, defaultSortOrder))
	return v
}

func setIf(v url.Values, key, value string) {
	if value != "" && value != "all" {
		v.Set(key, value)
	}
}

// RequestRecord is one tracked proxy request with field aliases resolved.
type RequestRecord struct {
	ID                  string  `json:"id"`
	Timestamp           string  `json:"timestamp"`
	Status              string  `json:"status"`
	StatusCode          int     `json:"status_code,omitempty"`
	Model               string  `json:"model"`
	Endpoint            string  `json:"endpoint"`
	Group               string  `json:"group"`
	DurationMS          float64 `json:"duration_ms"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
	IsStreaming         bool    `json:"is_streaming"`
}

// RequestPage is one page of the usage request listing.
type RequestPage struct {
	Requests   []*RequestRecord `json:"requests"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// first returns the first alias that is present with a non-empty value.
func first(obj gjson.Result, aliases ...string) gjson.Result {
	for _, alias := range aliases {
		r := obj.Get(alias)
		if r.Exists() && r.Type != gjson.Null && r.String() != "" {
			return r
		}
	}
	return gjson.Result{}
}

func orDefault(r gjson.Result, def string) string {
	if !r.Exists() {
		return def
	}
	return r.String()
}

// NormalizeRequest maps the backend's historical field spellings onto one record.
func NormalizeRequest(obj gjson.Result) *RequestRecord {
	return &RequestRecord{
		ID:                  first(obj, "request_id", "requestId", "id").String(),
		Timestamp:           first(obj, "start_time", "timestamp").String(),
		Status:              obj.Get("status").String(),
		StatusCode:          int(first(obj, "status_code", "statusCode").Int()),
		Model:               orDefault(first(obj, "model_name", "model"), "unknown"),
		Endpoint:            orDefault(first(obj, "endpoint_name", "endpoint"), "unknown"),
		Group:               orDefault(first(obj, "group_name", "group"), "default"),
		DurationMS:          first(obj, "duration_ms", "duration").Float(),
		InputTokens:         first(obj, "input_tokens", "inputTokens").Int(),
		OutputTokens:        first(obj, "output_tokens", "outputTokens").Int(),
		CacheCreationTokens: first(obj, "cache_creation_tokens", "cacheCreationTokens").Int(),
		CacheReadTokens:     first(obj, "cache_read_tokens", "cacheReadTokens").Int(),
		Cost:                first(obj, "total_cost_usd", "cost").Float(),
		IsStreaming:         first(obj, "is_streaming", "isStreaming").Bool(),
	}
}

// ParseRequestPage normalizes a usage listing body. The list may sit under
// "requests" or "data", or be the body itself.
func ParseRequestPage(body []byte) *RequestPage {
	root := gjson.ParseBytes(body)

	list := root
	switch {
	case root.Get("requests").IsArray():
		list = root.Get("requests")
	case root.Get("data").IsArray():
		list = root.Get("data")
	}

	page := &RequestPage{Requests: []*RequestRecord{}}
	if list.IsArray() {
		list.ForEach(func(_, value gjson.Result) bool {
			page.Requests = append(page.Requests, NormalizeRequest(value))
			return true
		})
	}

	total := int(root.Get("total").Int())
	page.Total = total
	if page.Total == 0 {
		page.Total = len(page.Requests)
	}
	page.Page = int(root.Get("page").Int())
	if page.Page == 0 {
		page.Page = 1
	}
	page.PageSize = int(first(root, "pageSize", "page_size", "limit").Int())
	if page.PageSize == 0 {
		page.PageSize = defaultPageSize
	}
	page.TotalPages = int(first(root, "totalPages", "total_pages").Int())
	if page.TotalPages == 0 {
		page.TotalPages = int(math.Ceil(float64(total) / float64(page.PageSize)))
	}
	return page
}

// GetUsageStats fetches aggregate usage; params are passed through as query values.
func (c *Client) GetUsageStats(ctx context.Context, params url.Values) (*UsageStats, error) {
	var stats UsageStats
	err := c.do(ctx, call{method: http.MethodGet, route: "/usage/stats", path: "/usage/stats", query: params}, &stats)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListRequests fetches one page of tracked requests.
func (c *Client) ListRequests(ctx context.Context, q RequestQuery) (*RequestPage, error) {
	var raw rawBody
	err := c.do(ctx, call{method: http.MethodGet, route: "/usage/requests", path: "/usage/requests", query: q.Values()}, &raw)
	if err != nil {
		return nil, err
	}
	return ParseRequestPage(raw), nil
}

// ListModels returns the model names seen by the backend. The list may be
// wrapped in {success, data} or {models}, and entries may be plain strings
// or objects.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var raw rawBody
	if err := c.do(ctx, call{method: http.MethodGet, route: "/usage/models", path: "/usage/models"}, &raw); err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(raw)
	list := root
	switch {
	case root.Get("data").IsArray():
		list = root.Get("data")
	case root.Get("models").IsArray():
		list = root.Get("models")
	}

	models := []string{}
	list.ForEach(func(_, value gjson.Result) bool {
		if value.Type == gjson.String {
			models = append(models, value.String())
			return true
		}
		if name := first(value, "model_name", "name", "model").String(); name != "" {
			models = append(models, name)
		}
		return true
	})
	return models, nil
}

// rawBody captures a response body verbatim for shape-tolerant parsing.
type rawBody []byte

func (r *rawBody) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}
