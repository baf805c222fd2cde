// Package github mirrors repository activity into chat. Registrations mint
// capability URLs for the webhook receiver; deliveries fan out to every
// subscriber of the repository.
package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Iskam31/YADISKTGBOT/internal/secrets"
	"github.com/Iskam31/YADISKTGBOT/internal/store"
)

// Notifier delivers one rendered notification to a user's chat.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text, linkLabel, linkURL string) error
}

// Registry is the store surface the webhook system drives.
type Registry interface {
	RegisterWebhook(ctx context.Context, owner, name, sealedSecret string, createdBy int64) (*store.WebhookRow, error)
	GetWebhook(ctx context.Context, id int64) (*store.WebhookRow, error)
	DeactivateWebhook(ctx context.Context, owner, name string, createdBy int64) error
	ActiveWebhookFor(ctx context.Context, owner, name string) (*store.WebhookRow, error)
	Subscribe(ctx context.Context, userID int64, owner, name string) error
	Unsubscribe(ctx context.Context, userID int64, owner, name string) error
	Subscriptions(ctx context.Context, userID int64) ([]store.WebhookSubRow, error)
	SubscribersFor(ctx context.Context, owner, name string) ([]int64, error)
}

// linkClaims is the payload of a capability-URL token. The webhook row id
// is all the receiver needs; everything else lives in the store.
type linkClaims struct {
	WebhookID int64 `json:"webhook_id"`
	jwt.RegisteredClaims
}

// Manager owns webhook registrations and per-user subscriptions.
type Manager struct {
	store   Registry
	box     *secrets.Box
	secret  []byte
	baseURL string
}

// NewManager creates a Manager. baseURL is the public origin the capability
// URLs are built on, e.g. https://bot.example.com.
func NewManager(st Registry, box *secrets.Box, jwtSecret, baseURL string) *Manager {
	return &Manager{
		store:   st,
		box:     box,
		secret:  []byte(jwtSecret),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Register stores the repository's webhook secret sealed and returns the
// capability URL to paste into the repository settings. The URL is shown
// once; the registering user is subscribed right away.
func (m *Manager) Register(ctx context.Context, userID int64, owner, name, secret string) (string, error) {
	sealed, err := m.box.Seal(secret)
	if err != nil {
		return "", fmt.Errorf("seal webhook secret: %w", err)
	}

	row, err := m.store.RegisterWebhook(ctx, owner, name, sealed, userID)
	if err != nil {
		return "", err
	}

	token, err := m.mintToken(row.ID)
	if err != nil {
		return "", fmt.Errorf("mint capability token: %w", err)
	}

	if err := m.store.Subscribe(ctx, userID, owner, name); err != nil {
		return "", err
	}
	return m.baseURL + "/github/webhook/" + token, nil
}

// Unregister turns the user's registration off. The capability URL keeps
// resolving but deliveries are refused.
func (m *Manager) Unregister(ctx context.Context, userID int64, owner, name string) error {
	return m.store.DeactivateWebhook(ctx, owner, name, userID)
}

// Subscribe adds the user to a repository's notification list. The
// repository must have an active registration, from any user.
func (m *Manager) Subscribe(ctx context.Context, userID int64, owner, name string) error {
	if _, err := m.store.ActiveWebhookFor(ctx, owner, name); err != nil {
		return err
	}
	return m.store.Subscribe(ctx, userID, owner, name)
}

// Unsubscribe removes the user from a repository's notification list.
func (m *Manager) Unsubscribe(ctx context.Context, userID int64, owner, name string) error {
	return m.store.Unsubscribe(ctx, userID, owner, name)
}

// Subscriptions returns the repositories the user follows.
func (m *Manager) Subscriptions(ctx context.Context, userID int64) ([]store.WebhookSubRow, error) {
	return m.store.Subscriptions(ctx, userID)
}

func (m *Manager) mintToken(webhookID int64) (string, error) {
	claims := &linkClaims{
		WebhookID: webhookID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
			Issuer:   "yadiskbot",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// verifyToken checks the capability token and returns the webhook row id.
func (m *Manager) verifyToken(tokenStr string) (int64, error) {
	claims := &linkClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return 0, err
	}
	if !token.Valid || claims.WebhookID == 0 {
		return 0, fmt.Errorf("invalid token")
	}
	return claims.WebhookID, nil
}
