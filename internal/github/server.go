package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Iskam31/YADISKTGBOT/internal/logging"
	"github.com/Iskam31/YADISKTGBOT/internal/metrics"
	"github.com/Iskam31/YADISKTGBOT/internal/retry"
	"github.com/Iskam31/YADISKTGBOT/internal/secrets"
	"github.com/Iskam31/YADISKTGBOT/internal/store"
)

// Webhook payloads are small; a megabyte already means something is off.
const maxDeliveryBytes = 1 << 20

const linkLabel = "открыть на GitHub"

// Server receives webhook deliveries on capability URLs and fans them out
// to subscribers.
type Server struct {
	manager *Manager
	store   Registry
	box     *secrets.Box
	notify  Notifier
	retry   retry.Config
}

// NewServer creates a Server delivering through n.
func NewServer(m *Manager, st Registry, box *secrets.Box, n Notifier) *Server {
	return &Server{
		manager: m,
		store:   st,
		box:     box,
		notify:  n,
		retry:   retry.DefaultConfig(),
	}
}

// Handler returns the receiver's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /github/webhook/{token}", s.handleDelivery)
	mux.HandleFunc("GET /health", s.handleHealth)
	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The capability token authenticates the route before any DB hit.
	id, err := s.manager.verifyToken(r.PathValue("token"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	hook, err := s.store.GetWebhook(ctx, id)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if !hook.IsActive {
		http.Error(w, "webhook disabled", http.StatusGone)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDeliveryBytes))
	if err != nil {
		http.Error(w, "body too large", http.StatusBadRequest)
		return
	}

	secret, err := s.box.Open(hook.SealedSecret)
	if err != nil {
		logging.Error("unseal webhook secret", zap.Int64("webhook_id", hook.ID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !signatureOK(body, secret, r.Header.Get("X-Hub-Signature-256")) {
		metrics.RecordWebhookEvent(eventName(r), "bad_signature")
		logging.Warn("webhook signature mismatch",
			zap.Int64("webhook_id", hook.ID),
			zap.String("repo", hook.RepoOwner+"/"+hook.RepoName))
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}

	event := eventName(r)
	if event == "ping" {
		metrics.RecordWebhookEvent(event, "pong")
		w.Write([]byte("pong"))
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		metrics.RecordWebhookEvent(event, "bad_payload")
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if !strings.EqualFold(p.Repository.FullName, hook.RepoOwner+"/"+hook.RepoName) {
		metrics.RecordWebhookEvent(event, "repo_mismatch")
		http.Error(w, "repository mismatch", http.StatusUnprocessableEntity)
		return
	}

	note := formatEvent(event, &p)
	if note == nil {
		metrics.RecordWebhookEvent(event, "ignored")
		w.Write([]byte("ignored"))
		return
	}

	s.fanOut(ctx, hook, event, note)
	metrics.RecordWebhookEvent(event, "delivered")
	w.Write([]byte("ok"))
}

// fanOut pushes the note to every subscriber. Sends retry with backoff;
// nobody is around to repeat a dropped delivery by hand.
func (s *Server) fanOut(ctx context.Context, hook *store.WebhookRow, event string, note *Note) {
	subs, err := s.store.SubscribersFor(ctx, hook.RepoOwner, hook.RepoName)
	if err != nil {
		logging.Error("list subscribers",
			zap.String("repo", hook.RepoOwner+"/"+hook.RepoName), zap.Error(err))
		return
	}

	for _, userID := range subs {
		err := retry.Do(ctx, s.retry, func() error {
			return retry.Retryable(s.notify.Notify(ctx, userID, note.Text, linkLabel, note.URL))
		})
		metrics.RecordNotification(err == nil)
		if err != nil {
			logging.Error("deliver notification",
				zap.Int64("user_id", userID),
				zap.String("event", event),
				zap.Error(err))
		}
	}
}

func eventName(r *http.Request) string {
	if e := r.Header.Get("X-GitHub-Event"); e != "" {
		return e
	}
	return "unknown"
}

// signatureOK verifies the HMAC-SHA256 delivery signature in constant time.
func signatureOK(body []byte, secret, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}
