package node

import "context"

// Unit is one independently running participant: an agent, the coordinator,
// a broker or the admin server. Run blocks until the unit finishes or ctx is
// cancelled.
type Unit interface {
	NodeID() string
	Kind() string
	Run(ctx context.Context) error
}
