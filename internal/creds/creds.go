// Package creds resolves a user's remote-storage credential from its sealed
// database row.
package creds

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Iskam31/YADISKTGBOT/internal/logging"
	"github.com/Iskam31/YADISKTGBOT/internal/secrets"
	"github.com/Iskam31/YADISKTGBOT/internal/store"
)

// ErrInvalid means a credential exists but is unusable: the remote side
// rejected it earlier, or the stored blob no longer opens.
var ErrInvalid = errors.New("stored credential is invalid")

// Credential is a user's plaintext remote token plus their upload default.
type Credential struct {
	Token         string
	DefaultFolder string
}

// Resolver joins the records store and the secrets box.
type Resolver struct {
	store *store.Store
	box   *secrets.Box
}

// NewResolver creates a Resolver.
func NewResolver(st *store.Store, box *secrets.Box) *Resolver {
	return &Resolver{store: st, box: box}
}

// Resolve returns the user's credential. Missing rows surface as
// store.ErrNotConfigured; rows that fail to unseal are flagged invalid in
// the store and surface as ErrInvalid.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (*Credential, error) {
	row, err := r.store.GetCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !row.IsValid {
		return nil, ErrInvalid
	}

	token, err := r.box.Open(row.SealedToken)
	if err != nil {
		if errors.Is(err, secrets.ErrSealedValue) {
			logging.Warn("stored credential does not unseal, flagging invalid",
				zap.Int64("user_id", userID))
			if merr := r.store.MarkCredentialInvalid(ctx, userID); merr != nil {
				logging.Error("flag credential invalid", zap.Int64("user_id", userID), zap.Error(merr))
			}
			return nil, ErrInvalid
		}
		return nil, fmt.Errorf("open credential: %w", err)
	}

	return &Credential{Token: token, DefaultFolder: row.DefaultFolder}, nil
}

// Save seals and stores a new token for the user.
func (r *Resolver) Save(ctx context.Context, userID int64, token string) error {
	sealed, err := r.box.Seal(token)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	return r.store.SaveCredential(ctx, userID, sealed)
}

// Invalidate flags the user's credential after a remote rejection.
func (r *Resolver) Invalidate(ctx context.Context, userID int64) error {
	return r.store.MarkCredentialInvalid(ctx, userID)
}

// Delete removes the user's credential row.
func (r *Resolver) Delete(ctx context.Context, userID int64) error {
	return r.store.DeleteCredential(ctx, userID)
}
