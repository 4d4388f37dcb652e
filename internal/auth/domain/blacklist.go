package domain

import "time"

type BlacklistReason string

const (
	ReasonLogout             BlacklistReason = "logout"
	ReasonPasswordChange     BlacklistReason = "password_change"
	ReasonAccountDeactivated BlacklistReason = "account_deactivated"
	ReasonAdminRevoke        BlacklistReason = "admin_revoke"
)

func (r BlacklistReason) Valid() bool {
	switch r {
	case ReasonLogout, ReasonPasswordChange, ReasonAccountDeactivated, ReasonAdminRevoke:
		return true
	}
	return false
}

type BlacklistEntry struct {
	TokenHash     string
	UserID        string
	Reason        BlacklistReason
	BlacklistedAt time.Time
	ExpiresAt     time.Time
}
