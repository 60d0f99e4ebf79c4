package handler

import (
	"github.com/templui/linkpage/internal/model"
)

type linkView struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

type profileView struct {
	Username        string     `json:"username"`
	DisplayName     string     `json:"displayName"`
	Bio             string     `json:"bio"`
	AvatarURL       string     `json:"avatarUrl"`
	Links           []linkView `json:"links"`
	FeaturedContent string     `json:"featuredContent,omitempty"`
	Theme           string     `json:"theme"`
	CustomThemeCSS  string     `json:"customThemeCss,omitempty"`
	AgeGated        bool       `json:"ageGated"`
	Verified        bool       `json:"verified"`
}

type accountView struct {
	profileView
	Email                string `json:"email,omitempty"`
	VerificationLevel    string `json:"verificationLevel"`
	Paid                 bool   `json:"paid"`
	SubscriptionExpiry   string `json:"subscriptionExpiry,omitempty"`
	LastUsernameChangeAt string `json:"lastUsernameChangeAt"`
}

func newProfileView(a *model.Account) profileView {
	links := make([]linkView, 0, len(a.Links))
	for i, url := range a.Links {
		link := linkView{URL: url}
		if i < len(a.LinkNames) {
			link.Name = a.LinkNames[i]
		}
		links = append(links, link)
	}

	featured := ""
	if a.Paid {
		featured = a.FeaturedContent
	}

	return profileView{
		Username:        a.Username,
		DisplayName:     a.DisplayName,
		Bio:             a.Bio,
		AvatarURL:       a.AvatarURL,
		Links:           links,
		FeaturedContent: featured,
		Theme:           a.Theme,
		CustomThemeCSS:  a.CustomThemeCSS,
		AgeGated:        a.AgeGated,
		Verified:        a.VerificationLevel >= model.LevelVerified,
	}
}

func newAccountView(a *model.Account, c *model.Credential) accountView {
	view := accountView{
		profileView:          newProfileView(a),
		VerificationLevel:    a.VerificationLevel.String(),
		Paid:                 a.Paid,
		SubscriptionExpiry:   string(a.SubscriptionExpiry),
		LastUsernameChangeAt: a.LastUsernameChangeAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	view.FeaturedContent = a.FeaturedContent
	if c != nil {
		view.Email = c.Email
	}
	return view
}
