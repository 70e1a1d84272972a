package security

import "github.com/cuemby/latticedb/pkg/types"

// Capability names the core admits at its write/query boundary. Policy
// beyond granting these two is a collaborator's concern, not this
// package's.
const (
	CapWrite = "write"
	CapQuery = "query"
)

// SecurityContext carries the capabilities a caller holds, the
// attributes a policy layer stamped onto its token, a fan-out budget
// ceiling for its queries, and an optional row filter the core ANDs into
// every read the caller issues (row-level security hook).
type SecurityContext struct {
	Capabilities []string
	Attributes   map[string]string
	Budget       *types.FanOutBudget
	RowFilter    *types.FilterExpr
}

// HasCapability reports whether name is among ctx's granted capabilities.
func (s SecurityContext) HasCapability(name string) bool {
	for _, c := range s.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// anonymous is the SecurityContext a request with no token carries: full
// capabilities, no row filter. A deployment that wants row-level security
// or capability admission must issue tokens; one that doesn't is left
// exactly as permissive as the core's predecessor, single-process
// embedding would be.
var anonymous = SecurityContext{Capabilities: []string{CapWrite, CapQuery}}
