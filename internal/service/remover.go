package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/repository"
	"github.com/templui/linkpage/internal/storage"
)

const shadowEmailDomain = "shadow.invalid"

// accountRemover deletes an account and then cleans up what lives outside
// the database. Only the row deletion can fail the call.
type accountRemover struct {
	lifecycle            *LifecycleStateMachine
	credentialRepository repository.CredentialRepository
	billingService       *BillingService
	emailService         *EmailService
	storage              storage.Storage
}

func (r *accountRemover) remove(ctx context.Context, actor string, account *model.Account) error {
	credential, err := r.credentialRepository.ByUsername(ctx, account.Username)
	if err != nil && !errors.Is(err, repository.ErrCredentialNotFound) {
		return fmt.Errorf("failed to load credential: %w", err)
	}

	err = r.lifecycle.Apply(ctx, actor, account, ActionDelete)
	if err != nil {
		return err
	}

	deleteStoredAvatar(ctx, r.storage, account.AvatarURL)

	if credential == nil {
		return nil
	}
	r.billingService.DeleteCustomer(ctx, credential.CustomerID())
	if !strings.HasSuffix(credential.Email, "@"+shadowEmailDomain) && r.emailService != nil {
		err = r.emailService.SendAccountDeletedEmail(ctx, credential.Email, account.Username)
		if err != nil {
			slog.Warn("failed to send account deleted email", "error", err, "username", account.Username)
		}
	}
	return nil
}

// deleteStoredAvatar removes an uploaded avatar object. URLs that do not
// point into the bucket (the default image, external links) are left alone.
func deleteStoredAvatar(ctx context.Context, store storage.Storage, avatarURL string) {
	if store == nil {
		return
	}
	path, ok := store.PathFromURL(avatarURL)
	if !ok {
		return
	}
	err := store.Delete(ctx, path)
	if err != nil {
		slog.Warn("failed to delete avatar", "error", err, "path", path)
	}
}
