package models

import "time"

// Role is the permission level of an account.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// AccountStatus marks whether an account may sign in.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

// UserAccount is a dashboard user managed by admins.
type UserAccount struct {
	ID           string        `gorm:"primarykey;size:36" json:"id"`
	Name         string        `gorm:"size:100;not null" json:"name"`
	Email        string        `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Role         Role          `gorm:"size:16;not null;default:user" json:"role"`
	Status       AccountStatus `gorm:"size:16;not null;default:active" json:"status"`
	LastLogin    *time.Time    `json:"lastLogin,omitempty"`
	PasswordHash string        `gorm:"size:100" json:"-"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// TableName returns the table name for UserAccount.
func (UserAccount) TableName() string {
	return "user_accounts"
}

// IsAdmin reports whether the account holds the admin role.
func (u UserAccount) IsAdmin() bool {
	return u.Role == RoleAdmin
}
