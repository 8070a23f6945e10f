package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker gates control commands behind a guild role.
type PermissionChecker struct {
	roleID string
}

// NewPermissionChecker creates a PermissionChecker for roleID.
func NewPermissionChecker(roleID string) *PermissionChecker {
	return &PermissionChecker{roleID: roleID}
}

// IsController reports whether the interaction author holds the control role.
// An empty role ID allows everyone. Interactions without a Member (direct
// messages) are refused.
func (p *PermissionChecker) IsController(i *discordgo.InteractionCreate) bool {
	if p.roleID == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	return p.Allows(i.Member.Roles)
}

// Allows reports whether a member holding roles may use control commands.
func (p *PermissionChecker) Allows(roles []string) bool {
	return p.roleID == "" || slices.Contains(roles, p.roleID)
}

// InteractionUserID returns the author of i, whether invoked in a guild or a
// direct message.
func InteractionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
