package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// GetStatus returns the backend's process status.
func (c *Client) GetStatus(ctx context.Context) (*SystemStatus, error) {
	var status SystemStatus
	if err := c.do(ctx, call{method: http.MethodGet, route: "/status", path: "/status"}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetConnections returns active-connection counters and suspended requests.
func (c *Client) GetConnections(ctx context.Context) (*ConnectionStats, error) {
	var stats ConnectionStats
	if err := c.do(ctx, call{method: http.MethodGet, route: "/connections", path: "/connections"}, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetConfig returns the backend configuration snapshot as raw JSON.
func (c *Client) GetConfig(ctx context.Context) (json.RawMessage, error) {
	var raw rawBody
	if err := c.do(ctx, call{method: http.MethodGet, route: "/config", path: "/config"}, &raw); err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// Endpoints

// ListEndpoints fetches the full endpoint collection. A bare JSON array is
// accepted as well as the {endpoints, total} envelope.
func (c *Client) ListEndpoints(ctx context.Context) (*EndpointList, error) {
	var raw rawBody
	op := call{method: http.MethodGet, route: "/endpoints", path: "/endpoints"}
	if err := c.do(ctx, op, &raw); err != nil {
		return nil, err
	}

	list := &EndpointList{}
	if err := decodeList(raw, &list.Endpoints, list); err != nil {
		return nil, &Error{Kind: KindParse, Op: "GET " + APIPrefix + op.path, Status: http.StatusOK, Message: "malformed endpoint list", Err: err}
	}
	if list.Endpoints == nil {
		list.Endpoints = []*Endpoint{}
	}
	if list.Total == 0 {
		list.Total = len(list.Endpoints)
	}
	return list, nil
}

// CheckEndpointHealth probes one endpoint immediately.
func (c *Client) CheckEndpointHealth(ctx context.Context, name string) (*HealthCheckResult, error) {
	var result HealthCheckResult
	op := call{
		method: http.MethodPost,
		route:  "/endpoints/{name}/health-check",
		path:   "/endpoints/" + escape(name) + "/health-check",
	}
	if err := c.do(ctx, op, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CheckAllEndpointsHealth probes every endpoint.
func (c *Client) CheckAllEndpointsHealth(ctx context.Context) (*BulkHealthCheckResult, error) {
	var result BulkHealthCheckResult
	op := call{method: http.MethodPost, route: "/endpoints/health-check-all", path: "/endpoints/health-check-all"}
	if err := c.do(ctx, op, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdatePriority changes an endpoint's priority.
func (c *Client) UpdatePriority(ctx context.Context, name string, priority int) (*ActionResult, error) {
	var result ActionResult
	op := call{
		method: http.MethodPost,
		route:  "/endpoints/{name}/priority",
		path:   "/endpoints/" + escape(name) + "/priority",
		body:   map[string]int{"priority": priority},
	}
	if err := c.do(ctx, op, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Credentials

// GetCredentialOverview fetches the credential lists of every endpoint.
func (c *Client) GetCredentialOverview(ctx context.Context) (*CredentialOverview, error) {
	var overview CredentialOverview
	if err := c.do(ctx, call{method: http.MethodGet, route: "/keys/overview", path: "/keys/overview"}, &overview); err != nil {
		return nil, err
	}
	if overview.Endpoints == nil {
		overview.Endpoints = []*CredentialSet{}
	}
	return &overview, nil
}

// GetEndpointCredentials fetches the credential lists of one endpoint.
func (c *Client) GetEndpointCredentials(ctx context.Context, name string) (*CredentialSet, error) {
	var set CredentialSet
	op := call{
		method: http.MethodGet,
		route:  "/endpoints/{name}/keys",
		path:   "/endpoints/" + escape(name) + "/keys",
	}
	if err := c.do(ctx, op, &set); err != nil {
		return nil, err
	}
	if set.Endpoint == "" {
		set.Endpoint = name
	}
	return &set, nil
}

// SwitchCredential makes the entry at index the active credential of kind.
func (c *Client) SwitchCredential(ctx context.Context, name string, kind CredentialKind, index int) (*SwitchResult, error) {
	var suffix string
	switch kind {
	case CredentialToken:
		suffix = "token"
	case CredentialAPIKey:
		suffix = "api-key"
	default:
		return nil, fmt.Errorf("unknown credential kind %q", kind)
	}

	var result SwitchResult
	op := call{
		method: http.MethodPost,
		route:  "/endpoints/{name}/keys/" + suffix,
		path:   "/endpoints/" + escape(name) + "/keys/" + suffix,
		body:   map[string]int{"index": index},
	}
	if err := c.do(ctx, op, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Groups

// ListGroups fetches the group collection. active_group follows the
// is_active flags, falling back to the backend's own field.
func (c *Client) ListGroups(ctx context.Context) (*GroupList, error) {
	var raw rawBody
	op := call{method: http.MethodGet, route: "/groups", path: "/groups"}
	if err := c.do(ctx, op, &raw); err != nil {
		return nil, err
	}

	list := &GroupList{}
	if err := decodeList(raw, &list.Groups, list); err != nil {
		return nil, &Error{Kind: KindParse, Op: "GET " + APIPrefix + op.path, Status: http.StatusOK, Message: "malformed group list", Err: err}
	}
	if list.Groups == nil {
		list.Groups = []*Group{}
	}
	for _, g := range list.Groups {
		if g.IsActive {
			list.ActiveGroup = g.Name
			break
		}
	}
	return list, nil
}

// ActivateGroup makes name the active group.
func (c *Client) ActivateGroup(ctx context.Context, name string) (*ActionResult, error) {
	return c.groupAction(ctx, name, "activate")
}

// PauseGroup pauses name.
func (c *Client) PauseGroup(ctx context.Context, name string) (*ActionResult, error) {
	return c.groupAction(ctx, name, "pause")
}

func (c *Client) groupAction(ctx context.Context, name, action string) (*ActionResult, error) {
	var result ActionResult
	op := call{
		method: http.MethodPost,
		route:  "/groups/{name}/" + action,
		path:   "/groups/" + escape(name) + "/" + action,
	}
	if err := c.do(ctx, op, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// decodeList decodes data either as a bare array into items or as an
// object into envelope.
func decodeList(data []byte, items interface{}, envelope interface{}) error {
	if gjson.ParseBytes(data).IsArray() {
		return json.Unmarshal(data, items)
	}
	return json.Unmarshal(data, envelope)
}
