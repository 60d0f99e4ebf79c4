package model

import (
	"time"
)

// VerificationLevel orders accounts by trust. Shadow and Suspended are denied states,
// not points on the ladder.
type VerificationLevel int

const (
	LevelAwaitingVerification VerificationLevel = -3
	LevelShadow               VerificationLevel = -2
	LevelSuspended            VerificationLevel = -1
	LevelMember               VerificationLevel = 0
	LevelVerified             VerificationLevel = 1
	LevelStaff                VerificationLevel = 2
)

func (l VerificationLevel) String() string {
	switch l {
	case LevelAwaitingVerification:
		return "awaiting_verification"
	case LevelShadow:
		return "shadow"
	case LevelSuspended:
		return "suspended"
	case LevelMember:
		return "member"
	case LevelVerified:
		return "verified"
	case LevelStaff:
		return "staff"
	default:
		return "unknown"
	}
}

const (
	DefaultBio    = "No bio yet."
	DefaultAvatar = "/static/default-avatar.png"
	DefaultTheme  = "default"
)

type Account struct {
	Username             string            `db:"username"`
	VerificationLevel    VerificationLevel `db:"verification_level"`
	Paid                 bool              `db:"paid"`
	SubscriptionExpiry   Expiry            `db:"subscription_expiry"`
	LastUsernameChangeAt time.Time         `db:"last_username_change_at"`
	DisplayName          string            `db:"display_name"`
	Bio                  string            `db:"bio"`
	AvatarURL            string            `db:"avatar_url"`
	Links                StringList        `db:"links"`
	LinkNames            StringList        `db:"link_names"`
	FeaturedContent      string            `db:"featured_content"`
	Theme                string            `db:"theme"`
	CustomThemeCSS       string            `db:"custom_theme_css"`
	AgeGated             bool              `db:"age_gated"`
	CreatedAt            time.Time         `db:"created_at"`
}

// NewAccount returns an account with profile defaults applied.
func NewAccount(username string, level VerificationLevel, now time.Time) *Account {
	return &Account{
		Username:             username,
		VerificationLevel:    level,
		LastUsernameChangeAt: now,
		DisplayName:          username,
		Bio:                  DefaultBio,
		AvatarURL:            DefaultAvatar,
		Links:                StringList{},
		LinkNames:            StringList{},
		Theme:                DefaultTheme,
		CreatedAt:            now,
	}
}

func (a *Account) IsStaff() bool {
	return a.VerificationLevel == LevelStaff
}

func (a *Account) IsShadow() bool {
	return a.VerificationLevel == LevelShadow
}

func (a *Account) IsSuspended() bool {
	return a.VerificationLevel == LevelSuspended
}

func (a *Account) IsAwaitingVerification() bool {
	return a.VerificationLevel == LevelAwaitingVerification
}

// RedirectTarget is the username a shadow account forwards visitors to.
func (a *Account) RedirectTarget() string {
	if !a.IsShadow() {
		return ""
	}
	return a.DisplayName
}

// Subscription is the entitlement pair written together by promote, demote and webhooks.
type Subscription struct {
	Paid   bool
	Expiry Expiry
}
