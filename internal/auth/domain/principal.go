package domain

import "time"

type UserType string

const (
	UserTypeInternal UserType = "internal"
	UserTypeExternal UserType = "external"
)

func (t UserType) Valid() bool {
	return t == UserTypeInternal || t == UserTypeExternal
}

func ParseUserType(s string) (UserType, bool) {
	t := UserType(s)
	return t, t.Valid()
}

// Principal is an authenticatable user of either realm. PasswordHash is empty
// for internal users, who authenticate through SSO.
type Principal struct {
	ID           string
	UserType     UserType
	Username     string
	Email        string
	FullName     string
	PasswordHash string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}

type PublicUser struct {
	ID          string     `json:"id"`
	UserType    UserType   `json:"userType"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	FullName    string     `json:"fullName,omitempty"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func (p Principal) Public() PublicUser {
	return PublicUser{
		ID:          p.ID,
		UserType:    p.UserType,
		Username:    p.Username,
		Email:       p.Email,
		FullName:    p.FullName,
		IsActive:    p.IsActive,
		LastLoginAt: p.LastLoginAt,
	}
}
