package api

import "encoding/json"

// Endpoint is one upstream target as reported by the backend.
// last_check and response_time are preformatted by the backend.
type Endpoint struct {
	Name             string `json:"name"`
	URL              string `json:"url"`
	Priority         int    `json:"priority"`
	Group            string `json:"group"`
	GroupPriority    int    `json:"group_priority"`
	GroupIsActive    bool   `json:"group_is_active"`
	Timeout          string `json:"timeout,omitempty"`
	Healthy          bool   `json:"healthy"`
	LastCheck        string `json:"last_check,omitempty"`
	ResponseTime     string `json:"response_time,omitempty"`
	NeverChecked     bool   `json:"never_checked"`
	Error            string `json:"error,omitempty"`
	ActiveTokenIndex int    `json:"active_token_index"`
}

// EndpointList is the response of GET /endpoints.
type EndpointList struct {
	Endpoints []*Endpoint `json:"endpoints"`
	Total     int         `json:"total"`
}

// HealthCheckResult is the response of a single endpoint probe.
type HealthCheckResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Healthy      bool   `json:"healthy"`
	ResponseTime string `json:"response_time,omitempty"`
	LastCheck    string `json:"last_check,omitempty"`
	NeverChecked bool   `json:"never_checked"`
}

// BulkHealthCheckResult is the response of the probe-all call.
type BulkHealthCheckResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	Total          int    `json:"total"`
	HealthyCount   int    `json:"healthy_count"`
	UnhealthyCount int    `json:"unhealthy_count"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// Group is a set of endpoints activated together.
type Group struct {
	Name               string        `json:"name"`
	IsActive           bool          `json:"is_active"`
	Priority           int           `json:"priority"`
	TotalEndpoints     int           `json:"total_endpoints"`
	HealthyEndpoints   int           `json:"healthy_endpoints"`
	UnhealthyEndpoints int           `json:"unhealthy_endpoints"`
	InCooldown         bool          `json:"in_cooldown"`
	CooldownRemaining  string        `json:"cooldown_remaining,omitempty"`
	Tokens             []*Credential `json:"tokens,omitempty"`
}

// GroupList is the response of GET /groups.
type GroupList struct {
	Groups                 []*Group `json:"groups"`
	ActiveGroup            string   `json:"active_group,omitempty"`
	TotalSuspendedRequests int      `json:"total_suspended_requests"`
}

// CredentialKind selects which credential list a switch applies to.
type CredentialKind string

const (
	CredentialToken  CredentialKind = "token"
	CredentialAPIKey CredentialKind = "api_key"
)

// Valid reports whether k is a known kind.
func (k CredentialKind) Valid() bool {
	return k == CredentialToken || k == CredentialAPIKey
}

// Credential is one entry of an endpoint's token or API key list.
type Credential struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Masked   string `json:"masked"`
	IsActive bool   `json:"is_active"`
}

// CredentialSet holds the credential lists of one endpoint.
type CredentialSet struct {
	Endpoint string        `json:"endpoint"`
	Tokens   []*Credential `json:"tokens"`
	APIKeys  []*Credential `json:"api_keys"`
}

// ActiveIndex returns the index of the active entry of kind, or -1.
func (s *CredentialSet) ActiveIndex(kind CredentialKind) int {
	list := s.Tokens
	if kind == CredentialAPIKey {
		list = s.APIKeys
	}
	for _, c := range list {
		if c.IsActive {
			return c.Index
		}
	}
	return -1
}

// CredentialOverview is the response of GET /keys/overview.
type CredentialOverview struct {
	Endpoints []*CredentialSet `json:"endpoints"`
	Total     int              `json:"total"`
	Timestamp string           `json:"timestamp,omitempty"`
}

// SwitchResult is the response of a credential switch.
type SwitchResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Endpoint  string `json:"endpoint"`
	NewIndex  int    `json:"new_index"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ActionResult is the generic {success, message} acknowledgement.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// VersionInfo describes the backend build.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// SystemStatus is the response of GET /status.
type SystemStatus struct {
	Status       string                 `json:"status"`
	Uptime       string                 `json:"uptime"`
	StartTime    string                 `json:"start_time"`
	ConfigFile   string                 `json:"config_file,omitempty"`
	Version      VersionInfo            `json:"version"`
	Server       map[string]interface{} `json:"server,omitempty"`
	Strategy     string                 `json:"strategy,omitempty"`
	AuthEnabled  bool                   `json:"auth_enabled"`
	ProxyEnabled bool                   `json:"proxy_enabled"`
}

// SuspendedConnection is a request parked while no endpoint is usable.
type SuspendedConnection struct {
	ID            string `json:"id"`
	ClientIP      string `json:"client_ip"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	Endpoint      string `json:"endpoint"`
	SuspendedAt   string `json:"suspended_at"`
	SuspendedTime string `json:"suspended_time"`
	RetryCount    int    `json:"retry_count"`
	UserAgent     string `json:"user_agent,omitempty"`
}

// ConnectionStats is the response of GET /connections.
type ConnectionStats struct {
	TotalRequests        int64                  `json:"total_requests"`
	ActiveConnections    int                    `json:"active_connections"`
	SuccessfulRequests   int64                  `json:"successful_requests"`
	FailedRequests       int64                  `json:"failed_requests"`
	AverageResponseTime  string                 `json:"average_response_time"`
	RequestsPerEndpoint  map[string]int64       `json:"requests_per_endpoint"`
	ErrorsPerEndpoint    map[string]int64       `json:"errors_per_endpoint"`
	Suspended            map[string]interface{} `json:"suspended,omitempty"`
	SuspendedConnections []*SuspendedConnection `json:"suspended_connections"`
}

// UsageStats is the response of GET /usage/stats. The backend shape varies
// with the requested period, so it is kept as raw JSON next to the common totals.
type UsageStats struct {
	TotalRequests int64           `json:"total_requests"`
	TotalTokens   int64           `json:"total_tokens"`
	TotalCost     float64         `json:"total_cost"`
	SuccessRate   float64         `json:"success_rate"`
	Raw           json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full body in Raw.
func (u *UsageStats) UnmarshalJSON(data []byte) error {
	type plain UsageStats
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = UsageStats(p)
	u.Raw = append(json.RawMessage(nil), data...)
	return nil
}
