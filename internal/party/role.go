// Package party names the three custody parties and maps them to the
// share indexes used by the round engines.
package party

import (
	"custody-node/internal/mpcerr"
	"sort"
)

// Role identifies one of the three custody parties.
type Role string

const (
	Initiator    Role = "initiator"
	Counterparty Role = "counterparty"
	Coordinator  Role = "coordinator"
)

const (
	// Threshold is the number of parties needed to sign.
	Threshold = 2
	// Total is the number of parties holding a share.
	Total = 3
)

// All lists the roles in share index order.
var All = []Role{Initiator, Counterparty, Coordinator}

// Parse validates s and returns it as a Role.
func Parse(s string) (Role, error) {
	r := Role(s)
	if r.Index() == 0 {
		return "", mpcerr.Validationf("unknown party role %q", s)
	}
	return r, nil
}

// Index returns the 1-based share index of the role, or 0 for an unknown role.
func (r Role) Index() int {
	switch r {
	case Initiator:
		return 1
	case Counterparty:
		return 2
	case Coordinator:
		return 3
	}
	return 0
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	return r.Index() != 0
}

func (r Role) String() string {
	return string(r)
}

// FromIndex maps a share index back to its role.
func FromIndex(i int) (Role, error) {
	if i < 1 || i > len(All) {
		return "", mpcerr.Validationf("share index %d out of range", i)
	}
	return All[i-1], nil
}

// Peers returns every role other than r, in index order.
func Peers(r Role) []Role {
	peers := make([]Role, 0, len(All)-1)
	for _, p := range All {
		if p != r {
			peers = append(peers, p)
		}
	}
	return peers
}

// Indexes converts roles to share indexes, sorted ascending.
func Indexes(roles []Role) []int {
	out := make([]int, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Index())
	}
	sort.Ints(out)
	return out
}

// SigningPair validates that self and peer form a two-party signing set.
func SigningPair(self, peer Role) error {
	if !self.Valid() || !peer.Valid() {
		return mpcerr.Validationf("invalid signing pair %q/%q", self, peer)
	}
	if self == peer {
		return mpcerr.Validationf("signing peer must differ from %s", self)
	}
	return nil
}
