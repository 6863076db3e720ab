package domain

import "time"

type User struct {
	ID         int64      `json:"id"`
	Phone      string     `json:"phone" gorm:"uniqueIndex;not null"`
	Username   string     `json:"username" gorm:"uniqueIndex"`
	Name       string     `json:"name"`
	AvatarURL  string     `json:"avatar_url,omitempty"`
	IsActive   bool       `json:"is_active" gorm:"default:true"`
	IsBanned   bool       `json:"is_banned" gorm:"default:false"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CanAuthenticate reports whether tokens minted for this account should
// still be honored. A banned or deactivated account invalidates every
// outstanding token without needing a blacklist.
func (u *User) CanAuthenticate() bool {
	return u.IsActive && !u.IsBanned
}

// DisplayInfo is the minimal profile pushed to the web device when its
// QR code is scanned.
type DisplayInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (u *User) Display() DisplayInfo {
	return DisplayInfo{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
	}
}
