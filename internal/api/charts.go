package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Series key mappings for the legacy labeled-series charts, by dataset position.
var (
	RequestTrendKeys       = []string{"total", "success", "fail"}
	ResponseTimeKeys       = []string{"avg", "min", "max"}
	ConnectionActivityKeys = []string{"connections"}
)

// Point is one x-axis position of a chart with its named values.
type Point struct {
	Time   string             `json:"time"`
	Values map[string]float64 `json:"values"`
}

// Dataset is one series of the legacy labeled-series shape.
type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// LabeledSeries is the legacy {labels, datasets} chart shape.
type LabeledSeries struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// ConvertSeries turns a labeled series into list-of-points. Dataset i is
// stored under keys[i], or "value<i>" when keys is short; missing samples are 0.
func ConvertSeries(series *LabeledSeries, keys []string) []Point {
	if series == nil || series.Labels == nil || series.Datasets == nil {
		return []Point{}
	}

	points := make([]Point, 0, len(series.Labels))
	for i, label := range series.Labels {
		p := Point{Time: label, Values: make(map[string]float64, len(series.Datasets))}
		for j, ds := range series.Datasets {
			key := "value" + strconv.Itoa(j)
			if j < len(keys) {
				key = keys[j]
			}
			var v float64
			if i < len(ds.Data) {
				v = ds.Data[i]
			}
			p.Values[key] = v
		}
		points = append(points, p)
	}
	return points
}

// ParsePoints accepts either chart shape: a plain array of points (objects
// with "time" or "label" and numeric fields) or the legacy labeled series.
func ParsePoints(body []byte, keys []string) ([]Point, error) {
	root := gjson.ParseBytes(body)

	if root.IsArray() {
		points := []Point{}
		root.ForEach(func(_, item gjson.Result) bool {
			p := Point{Values: map[string]float64{}}
			item.ForEach(func(key, value gjson.Result) bool {
				switch {
				case key.String() == "time" || key.String() == "label":
					p.Time = value.String()
				case value.Type == gjson.Number:
					p.Values[key.String()] = value.Float()
				}
				return true
			})
			points = append(points, p)
			return true
		})
		return points, nil
	}

	if root.Get("labels").Exists() && root.Get("datasets").Exists() {
		var series LabeledSeries
		if err := json.Unmarshal(body, &series); err != nil {
			return nil, err
		}
		return ConvertSeries(&series, keys), nil
	}
	return []Point{}, nil
}

// ValueKeys returns the sorted union of value names across points.
func ValueKeys(points []Point) []string {
	seen := map[string]bool{}
	for _, p := range points {
		for k := range p.Values {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EndpointCost is the token and cost total of one endpoint.
type EndpointCost struct {
	Name   string  `json:"name"`
	Tokens float64 `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// ConvertEndpointCosts matches the token dataset by a label containing
// "token" and the cost dataset by "cost", "USD" or "成本".
func ConvertEndpointCosts(series *LabeledSeries) []EndpointCost {
	if series == nil {
		return []EndpointCost{}
	}

	var tokens, cost []float64
	for _, ds := range series.Datasets {
		lower := strings.ToLower(ds.Label)
		if tokens == nil && strings.Contains(lower, "token") {
			tokens = ds.Data
		}
		if cost == nil && (strings.Contains(ds.Label, "成本") || strings.Contains(lower, "cost") || strings.Contains(ds.Label, "USD")) {
			cost = ds.Data
		}
	}

	out := make([]EndpointCost, 0, len(series.Labels))
	for i, name := range series.Labels {
		ec := EndpointCost{Name: name}
		if i < len(tokens) {
			ec.Tokens = tokens[i]
		}
		if i < len(cost) {
			ec.Cost = cost[i]
		}
		out = append(out, ec)
	}
	return out
}

// HealthSplit counts healthy and unhealthy endpoints.
type HealthSplit struct {
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// TokenBreakdown splits token usage by category.
type TokenBreakdown struct {
	Input         int64 `json:"input"`
	Output        int64 `json:"output"`
	CacheCreation int64 `json:"cache_creation"`
	CacheRead     int64 `json:"cache_read"`
}

// Total sums every category.
func (t TokenBreakdown) Total() int64 {
	return t.Input + t.Output + t.CacheCreation + t.CacheRead
}

func minutesQuery(minutes int) url.Values {
	if minutes <= 0 {
		return nil
	}
	return url.Values{"minutes": []string{strconv.Itoa(minutes)}}
}

func (c *Client) chartPoints(ctx context.Context, name string, minutes int, keys []string) ([]Point, error) {
	var raw rawBody
	op := call{
		method: http.MethodGet,
		route:  "/chart/" + name,
		path:   "/chart/" + name,
		query:  minutesQuery(minutes),
	}
	if err := c.do(ctx, op, &raw); err != nil {
		return nil, err
	}

	points, err := ParsePoints(raw, keys)
	if err != nil {
		return nil, &Error{Kind: KindParse, Op: "GET " + APIPrefix + op.path, Status: http.StatusOK, Message: "malformed chart series", Err: err}
	}
	return points, nil
}

// GetRequestTrends returns total/success/fail counts per time bucket.
func (c *Client) GetRequestTrends(ctx context.Context, minutes int) ([]Point, error) {
	return c.chartPoints(ctx, "request-trends", minutes, RequestTrendKeys)
}

// GetResponseTimes returns avg/min/max latency per time bucket.
func (c *Client) GetResponseTimes(ctx context.Context, minutes int) ([]Point, error) {
	return c.chartPoints(ctx, "response-times", minutes, ResponseTimeKeys)
}

// GetConnectionActivity returns connection counts per time bucket.
func (c *Client) GetConnectionActivity(ctx context.Context, minutes int) ([]Point, error) {
	return c.chartPoints(ctx, "connection-activity", minutes, ConnectionActivityKeys)
}

// ParseEndpointCosts accepts a plain array of costs or the legacy labeled series.
func ParseEndpointCosts(body []byte) ([]EndpointCost, error) {
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		var costs []EndpointCost
		if err := json.Unmarshal(body, &costs); err != nil {
			return nil, err
		}
		return costs, nil
	}
	if !root.Get("labels").Exists() || !root.Get("datasets").Exists() {
		return []EndpointCost{}, nil
	}

	var series LabeledSeries
	if err := json.Unmarshal(body, &series); err != nil {
		return nil, err
	}
	return ConvertEndpointCosts(&series), nil
}

// ParseHealthSplit reads {healthy, unhealthy}. The legacy shape carries both
// numbers in the first dataset.
func ParseHealthSplit(body []byte) HealthSplit {
	root := gjson.ParseBytes(body)
	if root.Get("labels").Exists() && root.Get("datasets").Exists() {
		data := root.Get("datasets.0.data")
		return HealthSplit{
			Healthy:   int(data.Get("0").Int()),
			Unhealthy: int(data.Get("1").Int()),
		}
	}
	return HealthSplit{
		Healthy:   int(root.Get("healthy").Int()),
		Unhealthy: int(root.Get("unhealthy").Int()),
	}
}

// ParseTokenBreakdown reads the *_tokens counters, optionally nested under
// "current".
func ParseTokenBreakdown(body []byte) TokenBreakdown {
	root := gjson.ParseBytes(body)
	current := root
	if cur := root.Get("current"); cur.IsObject() {
		current = cur
	}
	return TokenBreakdown{
		Input:         current.Get("input_tokens").Int(),
		Output:        current.Get("output_tokens").Int(),
		CacheCreation: current.Get("cache_creation_tokens").Int(),
		CacheRead:     current.Get("cache_read_tokens").Int(),
	}
}

// GetEndpointCosts returns per-endpoint tokens and cost.
func (c *Client) GetEndpointCosts(ctx context.Context) ([]EndpointCost, error) {
	var raw rawBody
	if err := c.do(ctx, call{method: http.MethodGet, route: "/chart/endpoint-costs", path: "/chart/endpoint-costs"}, &raw); err != nil {
		return nil, err
	}

	costs, err := ParseEndpointCosts(raw)
	if err != nil {
		return nil, &Error{Kind: KindParse, Op: "GET " + APIPrefix + "/chart/endpoint-costs", Status: http.StatusOK, Message: "malformed endpoint costs", Err: err}
	}
	return costs, nil
}

// GetEndpointHealth returns the healthy/unhealthy split.
func (c *Client) GetEndpointHealth(ctx context.Context) (*HealthSplit, error) {
	var raw rawBody
	if err := c.do(ctx, call{method: http.MethodGet, route: "/chart/endpoint-health", path: "/chart/endpoint-health"}, &raw); err != nil {
		return nil, err
	}

	split := ParseHealthSplit(raw)
	return &split, nil
}

// GetTokenUsage returns the current token breakdown.
func (c *Client) GetTokenUsage(ctx context.Context) (*TokenBreakdown, error) {
	var raw rawBody
	if err := c.do(ctx, call{method: http.MethodGet, route: "/tokens/usage", path: "/tokens/usage"}, &raw); err != nil {
		return nil, err
	}

	breakdown := ParseTokenBreakdown(raw)
	return &breakdown, nil
}
