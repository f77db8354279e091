package directory

import "context"

// Directory answers whether an organization identifier is known to the
// catalog. The queue engine only ever consults it before mutating
// state; everything else about organizations lives outside the core.
type Directory interface {
	IsValidOrg(ctx context.Context, orgID string) (bool, error)
}

// Static is a fixed in-memory directory, used in tests and small
// single-tenant deployments configured from the environment.
type Static struct {
	orgs map[string]struct{}
}

func NewStatic(orgIDs ...string) *Static {
	orgs := make(map[string]struct{}, len(orgIDs))
	for _, id := range orgIDs {
		orgs[id] = struct{}{}
	}
	return &Static{orgs: orgs}
}

func (s *Static) IsValidOrg(_ context.Context, orgID string) (bool, error) {
	_, ok := s.orgs[orgID]
	return ok, nil
}
