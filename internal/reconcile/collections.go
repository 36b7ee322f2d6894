package reconcile

import (
	"context"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
)

type (
	EndpointEngine   = Engine[api.Endpoint, EndpointStats]
	GroupEngine      = Engine[api.Group, GroupStats]
	CredentialEngine = Engine[api.CredentialSet, CredentialStats]
)

// EndpointSpec describes the endpoint collection, fed by "endpoint" events.
func EndpointSpec(client *api.Client) Spec[api.Endpoint, EndpointStats] {
	return Spec[api.Endpoint, EndpointStats]{
		Name:         "endpoints",
		Category:     "endpoint",
		ListKeys:     []string{"endpoints"},
		IdentityKeys: []string{"endpoint_name", "name", "endpoint"},
		Identity:     func(ep *api.Endpoint) string { return ep.Name },
		Fetch: func(ctx context.Context) ([]*api.Endpoint, error) {
			list, err := client.ListEndpoints(ctx)
			if err != nil {
				return nil, err
			}
			return list.Endpoints, nil
		},
		Summarize: SummarizeEndpoints,
	}
}

// GroupSpec describes the group collection, fed by "group" events.
func GroupSpec(client *api.Client) Spec[api.Group, GroupStats] {
	return Spec[api.Group, GroupStats]{
		Name:         "groups",
		Category:     "group",
		ListKeys:     []string{"groups"},
		IdentityKeys: []string{"name", "group"},
		Identity:     func(g *api.Group) string { return g.Name },
		Fetch: func(ctx context.Context) ([]*api.Group, error) {
			list, err := client.ListGroups(ctx)
			if err != nil {
				return nil, err
			}
			return list.Groups, nil
		},
		Summarize: SummarizeGroups,
	}
}

// CredentialSpec describes the per-endpoint credential lists. The push
// channel carries no credential category, so this collection is REST only.
func CredentialSpec(client *api.Client) Spec[api.CredentialSet, CredentialStats] {
	return Spec[api.CredentialSet, CredentialStats]{
		Name:         "credentials",
		ListKeys:     []string{"endpoints"},
		IdentityKeys: []string{"endpoint"},
		Identity:     func(set *api.CredentialSet) string { return set.Endpoint },
		Fetch: func(ctx context.Context) ([]*api.CredentialSet, error) {
			overview, err := client.GetCredentialOverview(ctx)
			if err != nil {
				return nil, err
			}
			return overview.Endpoints, nil
		},
		Summarize: SummarizeCredentials,
	}
}

// NewEndpointEngine is New(EndpointSpec(client), opts).
func NewEndpointEngine(client *api.Client, opts Options) *EndpointEngine {
	return New(EndpointSpec(client), opts)
}

// NewGroupEngine is New(GroupSpec(client), opts).
func NewGroupEngine(client *api.Client, opts Options) *GroupEngine {
	return New(GroupSpec(client), opts)
}

// NewCredentialEngine is New(CredentialSpec(client), opts).
func NewCredentialEngine(client *api.Client, opts Options) *CredentialEngine {
	return New(CredentialSpec(client), opts)
}
