package reconcile

import (
	"sort"
	"strconv"
	"strings"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
)

// EndpointStats summarizes endpoint health. It is always recomputed from
// the list.
type EndpointStats struct {
	Total            int    `json:"total"`
	Healthy          int    `json:"healthy"`
	Unhealthy        int    `json:"unhealthy"`
	Unchecked        int    `json:"unchecked"`
	HealthPercentage string `json:"health_percentage"`
}

// SummarizeEndpoints counts never-checked endpoints separately from
// unhealthy ones.
func SummarizeEndpoints(endpoints []*api.Endpoint) EndpointStats {
	stats := EndpointStats{Total: len(endpoints)}
	for _, ep := range endpoints {
		switch {
		case ep.NeverChecked:
			stats.Unchecked++
		case ep.Healthy:
			stats.Healthy++
		default:
			stats.Unhealthy++
		}
	}
	stats.HealthPercentage = percentage(stats.Healthy, stats.Total)
	return stats
}

func percentage(part, total int) string {
	if total == 0 {
		return "0"
	}
	return strconv.FormatFloat(float64(part)/float64(total)*100, 'f', 1, 64)
}

// GroupStats summarizes group activation.
type GroupStats struct {
	Total       int    `json:"total"`
	Active      int    `json:"active"`
	ActiveGroup string `json:"active_group,omitempty"`
	InCooldown  int    `json:"in_cooldown"`

	// Switching is set while zero or several groups report active, the
	// transient window of a group switch.
	Switching bool `json:"switching"`
}

// SummarizeGroups derives the activation summary.
func SummarizeGroups(groups []*api.Group) GroupStats {
	stats := GroupStats{Total: len(groups)}
	for _, g := range groups {
		if g.IsActive {
			stats.Active++
			if stats.ActiveGroup == "" {
				stats.ActiveGroup = g.Name
			}
		}
		if g.InCooldown {
			stats.InCooldown++
		}
	}
	stats.Switching = stats.Total > 0 && stats.Active != 1
	if stats.Active != 1 {
		stats.ActiveGroup = ""
	}
	return stats
}

// CredentialStats summarizes the credential lists of every endpoint.
type CredentialStats struct {
	Endpoints int `json:"endpoints"`
	Tokens    int `json:"tokens"`
	APIKeys   int `json:"api_keys"`

	// Inconsistent counts non-empty lists without exactly one active entry.
	Inconsistent int `json:"inconsistent"`
}

// SummarizeCredentials derives credential counts.
func SummarizeCredentials(sets []*api.CredentialSet) CredentialStats {
	stats := CredentialStats{Endpoints: len(sets)}
	for _, set := range sets {
		stats.Tokens += len(set.Tokens)
		stats.APIKeys += len(set.APIKeys)
		for _, list := range [][]*api.Credential{set.Tokens, set.APIKeys} {
			if len(list) > 0 && activeCount(list) != 1 {
				stats.Inconsistent++
			}
		}
	}
	return stats
}

func activeCount(list []*api.Credential) int {
	n := 0
	for _, c := range list {
		if c.IsActive {
			n++
		}
	}
	return n
}

// GroupMembership maps each group name to its endpoints ordered by group
// priority, then name. Endpoints without a group are listed under "".
func GroupMembership(endpoints []*api.Endpoint) map[string][]*api.Endpoint {
	members := map[string][]*api.Endpoint{}
	for _, ep := range endpoints {
		members[ep.Group] = append(members[ep.Group], ep)
	}
	for _, list := range members {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].GroupPriority != list[j].GroupPriority {
				return list[i].GroupPriority < list[j].GroupPriority
			}
			return list[i].Name < list[j].Name
		})
	}
	return members
}

// SearchEndpoints filters by a case-insensitive substring of name, url or
// group. An empty query returns every endpoint.
func SearchEndpoints(endpoints []*api.Endpoint, query string) []*api.Endpoint {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return append([]*api.Endpoint(nil), endpoints...)
	}

	var out []*api.Endpoint
	for _, ep := range endpoints {
		if strings.Contains(strings.ToLower(ep.Name), query) ||
			strings.Contains(strings.ToLower(ep.URL), query) ||
			strings.Contains(strings.ToLower(ep.Group), query) {
			out = append(out, ep)
		}
	}
	return out
}
