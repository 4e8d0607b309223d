package agent

import (
	"github.com/danmuck/tagctl/internal/protocol"
	"github.com/google/uuid"
)

// NewIdentity returns a unique actor identity prefixed with its role.
func NewIdentity(role protocol.Role) string {
	return role.String() + "-" + uuid.NewString()
}
