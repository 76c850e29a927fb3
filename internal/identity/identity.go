// Package identity describes who is on the other end of a connection and
// derives the display color collaborators see for them.
package identity

import (
	"errors"
	"hash/fnv"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Roles as assigned by the upstream identity system. The sync layer carries
// them through without enforcing anything.
const (
	RoleOwner    = "owner"
	RoleEditor   = "editor"
	RoleApprover = "approver"
	RoleViewer   = "viewer"
)

// System is the identity stamped on frames the server originates itself
// (rosters, lock results, resync responses).
var System = Identity{UserID: "system", Name: "system", Role: "system"}

var ErrMissingUserID = errors.New("identity: user id is required")

// Identity is an already-authenticated caller.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"userName"`
	Role   string `json:"userRole"`
}

// Validate checks the fields the sync layer depends on.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.UserID) == "" {
		return ErrMissingUserID
	}
	return nil
}

// DisplayName falls back to the user id when no name was supplied.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.UserID
}

// Color returns the hex color assigned to userID. The mapping is a pure
// function of the id so it is stable across reconnects and processes.
func Color(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	sum := h.Sum32()

	hue := float64(sum % 360)
	// Two bits of the hash nudge saturation/lightness so neighbouring hues
	// stay distinguishable.
	sat := 0.55 + float64((sum>>9)&0x3)*0.1
	light := 0.45 + float64((sum>>11)&0x1)*0.1

	return colorful.Hsl(hue, sat, light).Clamped().Hex()
}
