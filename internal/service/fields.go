package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/repository"
	"github.com/templui/linkpage/internal/validation"
)

// fieldSpec describes one editable account field. Fields without an apply
// func are written straight to column.
type fieldSpec struct {
	column    string
	selfEdit  bool
	paidOnly  bool
	normalize func(target *model.Account, raw string) (any, error)
	current   func(target *model.Account, credential *model.Credential) any
	apply     func(ctx context.Context, e *fieldEditor, target *model.Account, value any) error
}

const (
	FieldDisplayName     = "displayName"
	FieldBio             = "bio"
	FieldAvatar          = "avatar"
	FieldLinks           = "links"
	FieldLinkNames       = "linkNames"
	FieldTheme           = "theme"
	FieldCustomThemeCSS  = "customThemeCss"
	FieldFeaturedContent = "featuredContent"
	FieldAgeGated        = "ageGated"
	FieldEmail           = "email"
	FieldUsername        = "username"
)

var fieldRegistry = map[string]fieldSpec{
	FieldDisplayName: {
		column:   "display_name",
		selfEdit: true,
		normalize: func(target *model.Account, raw string) (any, error) {
			name := strings.TrimSpace(raw)
			if name == "" && !target.IsShadow() {
				name = target.Username
			}
			return name, validation.ValidateDisplayName(name)
		},
		current: func(a *model.Account, _ *model.Credential) any { return a.DisplayName },
	},
	FieldBio: {
		column:   "bio",
		selfEdit: true,
		normalize: func(_ *model.Account, raw string) (any, error) {
			bio := strings.TrimSpace(raw)
			if bio == "" {
				bio = model.DefaultBio
			}
			return bio, validation.ValidateBio(bio)
		},
		current: func(a *model.Account, _ *model.Credential) any { return a.Bio },
	},
	FieldAvatar: {
		column: "avatar_url",
		normalize: func(_ *model.Account, raw string) (any, error) {
			avatar := strings.TrimSpace(raw)
			if avatar == "" || avatar == model.DefaultAvatar {
				return model.DefaultAvatar, nil
			}
			return avatar, validation.ValidateURL(avatar)
		},
		current: func(a *model.Account, _ *model.Credential) any { return a.AvatarURL },
	},
	FieldLinks: {
		column:   "links",
		selfEdit: true,
		normalize: func(_ *model.Account, raw string) (any, error) {
			links := splitLines(raw, true)
			return links, validation.ValidateLinks(links, nil)
		},
		current: func(a *model.Account, _ *model.Credential) any { return a.Links },
	},
	FieldLinkNames: {
		column:   "link_names",
		selfEdit: true,
		normalize: func(_ *model.Account, raw string) (any, error) {
			names := splitLines(raw, false)
			for _, name := range names {
				if len(name) > 100 {
					return nil, errors.New("link name is too long (max 100 characters)")
				}
			}
			return names, nil
		},
		current: func(a *model.Account, _ *model.Credential) any { return a.LinkNames },
	},
	FieldTheme: {
		column:   "theme",
		selfEdit: true,
		normalize: func(_ *model.Account, raw string) (any, error) {
			theme := strings.TrimSpace(raw)
			if theme == "" {
				theme = model.DefaultTheme
			}
			return theme, validation.ValidateTheme(theme)
		},
		current: func(a *model.Account, _ *model.Credential) any { return a.Theme },
	},
	FieldCustomThemeCSS: {
		column:   "custom_theme_css",
		selfEdit: true,
		normalize: func(_ *model.Account, raw string) (any, error) {
			css := strings.TrimSpace(raw)
			return css, validation.ValidateThemeCSS(css)
		},
		current: func(a *model.Account, _ *model.Credential) any { return a.CustomThemeCSS },
	},
	FieldFeaturedContent: {
		column:   "featured_content",
		selfEdit: true,
		paidOnly: true,
		normalize: func(_ *model.Account, raw string) (any, error) {
			url := strings.TrimSpace(raw)
			if url == "" {
				return "", nil
			}
			return url, validation.ValidateURL(url)
		},
		current: func(a *model.Account, _ *model.Credential) any { return a.FeaturedContent },
	},
	FieldAgeGated: {
		column:   "age_gated",
		selfEdit: true,
		normalize: func(_ *model.Account, raw string) (any, error) {
			raw = strings.TrimSpace(raw)
			if raw == "" || raw == "on" {
				return raw == "on", nil
			}
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid age gate value: %q", raw)
			}
			return b, nil
		},
		current: func(a *model.Account, _ *model.Credential) any { return a.AgeGated },
	},
	FieldEmail: {
		normalize: func(_ *model.Account, raw string) (any, error) {
			email := validation.NormalizeEmail(raw)
			return email, validation.ValidateEmail(email)
		},
		current: func(_ *model.Account, c *model.Credential) any { return c.Email },
		apply:   applyEmail,
	},
	FieldUsername: {
		normalize: func(_ *model.Account, raw string) (any, error) {
			username := validation.NormalizeUsername(raw)
			return username, validation.ValidateUsername(username)
		},
		current: func(a *model.Account, _ *model.Credential) any { return a.Username },
		apply:   applyUsername,
	},
}

// splitLines turns a newline separated form value into a list. Blank lines
// are dropped only when dropEmpty is set, so names stay aligned with links.
func splitLines(raw string, dropEmpty bool) model.StringList {
	out := model.StringList{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" && dropEmpty {
			continue
		}
		out = append(out, line)
	}
	return out
}

type fieldEdit struct {
	name  string
	spec  fieldSpec
	value any
}

// fieldEditor validates and applies batches of field edits for both staff
// moderation and self-service profile updates.
type fieldEditor struct {
	accountRepository    repository.AccountRepository
	credentialRepository repository.CredentialRepository
	billingService       *BillingService
	now                  func() time.Time
}

// plan validates every edit before anything is written. Unknown fields,
// fields the caller may not touch and unchanged values are dropped.
// A username change always comes last.
func (e *fieldEditor) plan(target *model.Account, credential *model.Credential, edits map[string]string, self bool) ([]fieldEdit, error) {
	names := make([]string, 0, len(edits))
	for name := range edits {
		names = append(names, name)
	}
	sort.Strings(names)

	var planned []fieldEdit
	var rename *fieldEdit
	for _, name := range names {
		spec, ok := fieldRegistry[name]
		if !ok {
			continue
		}
		if self && !spec.selfEdit {
			continue
		}
		if spec.paidOnly && !target.Paid {
			slog.Debug("ignoring paid-only field", "field", name, "username", target.Username)
			continue
		}

		value, err := spec.normalize(target, edits[name])
		if err != nil {
			return nil, invalid(err)
		}
		if reflect.DeepEqual(value, spec.current(target, credential)) {
			continue
		}

		edit := fieldEdit{name: name, spec: spec, value: value}
		if name == FieldUsername {
			rename = &edit
			continue
		}
		planned = append(planned, edit)
	}

	if rename != nil {
		planned = append(planned, *rename)
	}
	return planned, nil
}

// apply writes planned edits in order and returns the names written.
func (e *fieldEditor) apply(ctx context.Context, target *model.Account, planned []fieldEdit) ([]string, error) {
	applied := make([]string, 0, len(planned))
	for _, edit := range planned {
		var err error
		if edit.spec.apply != nil {
			err = edit.spec.apply(ctx, e, target, edit.value)
		} else {
			err = e.accountRepository.UpdateColumn(ctx, target.Username, edit.spec.column, edit.value)
		}
		if err != nil {
			return applied, mapStoreError(err)
		}
		applied = append(applied, edit.name)
	}
	return applied, nil
}

func applyEmail(ctx context.Context, e *fieldEditor, target *model.Account, value any) error {
	email := value.(string)
	err := e.credentialRepository.UpdateEmail(ctx, target.Username, email)
	if err != nil {
		return err
	}
	e.billingService.SyncCustomerEmail(ctx, target.Username, email)
	return nil
}

func applyUsername(ctx context.Context, e *fieldEditor, target *model.Account, value any) error {
	username := value.(string)
	now := e.now()
	err := e.accountRepository.Rename(ctx, target.Username, username, now)
	if err != nil {
		return err
	}
	target.Username = username
	target.LastUsernameChangeAt = now
	return nil
}

// describeEdits renders changed fields for the audit log.
func describeEdits(planned []fieldEdit) string {
	parts := make([]string, 0, len(planned))
	for _, edit := range planned {
		value := fmt.Sprint(edit.value)
		if len(value) > 80 {
			value = value[:77] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%q", edit.name, value))
	}
	return strings.Join(parts, ", ")
}

// mapStoreError turns repository sentinels into user-facing errors.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicateUsername):
		return wrapError(ErrUsernameTaken, err)
	case errors.Is(err, repository.ErrDuplicateEmail):
		return wrapError(ErrEmailTaken, err)
	case errors.Is(err, repository.ErrAccountNotFound), errors.Is(err, repository.ErrCredentialNotFound):
		return wrapError(ErrAccountNotFound, err)
	case errors.Is(err, repository.ErrStaleWrite):
		return wrapError(ErrConcurrentChange, err)
	default:
		return err
	}
}
