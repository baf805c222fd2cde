package github

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iskam31/YADISKTGBOT/internal/retry"
	"github.com/Iskam31/YADISKTGBOT/internal/secrets"
	"github.com/Iskam31/YADISKTGBOT/internal/store"
)

type fakeRegistry struct {
	mu     sync.Mutex
	nextID int64
	hooks  map[int64]*store.WebhookRow
	subs   map[string][]int64
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		nextID: 1,
		hooks:  make(map[int64]*store.WebhookRow),
		subs:   make(map[string][]int64),
	}
}

func (f *fakeRegistry) RegisterWebhook(_ context.Context, owner, name, sealed string, createdBy int64) (*store.WebhookRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.hooks {
		if h.RepoOwner == owner && h.RepoName == name && h.CreatedBy == createdBy {
			h.SealedSecret = sealed
			h.IsActive = true
			cp := *h
			return &cp, nil
		}
	}
	h := &store.WebhookRow{
		ID: f.nextID, RepoOwner: owner, RepoName: name,
		SealedSecret: sealed, CreatedBy: createdBy, IsActive: true, CreatedAt: time.Now(),
	}
	f.nextID++
	f.hooks[h.ID] = h
	cp := *h
	return &cp, nil
}

func (f *fakeRegistry) GetWebhook(_ context.Context, id int64) (*store.WebhookRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hooks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (f *fakeRegistry) DeactivateWebhook(_ context.Context, owner, name string, createdBy int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.hooks {
		if h.RepoOwner == owner && h.RepoName == name && h.CreatedBy == createdBy {
			h.IsActive = false
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeRegistry) ActiveWebhookFor(_ context.Context, owner, name string) (*store.WebhookRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *store.WebhookRow
	for _, h := range f.hooks {
		if h.RepoOwner == owner && h.RepoName == name && h.IsActive {
			if best == nil || h.ID < best.ID {
				best = h
			}
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (f *fakeRegistry) Subscribe(_ context.Context, userID int64, owner, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner + "/" + name
	for _, id := range f.subs[key] {
		if id == userID {
			return nil
		}
	}
	f.subs[key] = append(f.subs[key], userID)
	return nil
}

func (f *fakeRegistry) Unsubscribe(_ context.Context, userID int64, owner, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner + "/" + name
	for i, id := range f.subs[key] {
		if id == userID {
			f.subs[key] = append(f.subs[key][:i], f.subs[key][i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeRegistry) Subscriptions(_ context.Context, userID int64) ([]store.WebhookSubRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.WebhookSubRow
	for key, ids := range f.subs {
		for _, id := range ids {
			if id == userID {
				owner, name, _ := strings.Cut(key, "/")
				out = append(out, store.WebhookSubRow{UserID: id, RepoOwner: owner, RepoName: name})
			}
		}
	}
	return out, nil
}

func (f *fakeRegistry) SubscribersFor(_ context.Context, owner, name string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.subs[owner+"/"+name]...), nil
}

type delivery struct {
	userID int64
	text   string
	label  string
	url    string
}

type fakeNotifier struct {
	mu    sync.Mutex
	fails map[int64]int // failures to inject before a user's send succeeds
	sent  []delivery
}

func (n *fakeNotifier) Notify(_ context.Context, userID int64, text, label, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fails[userID] > 0 {
		n.fails[userID]--
		return errors.New("chat unavailable")
	}
	n.sent = append(n.sent, delivery{userID: userID, text: text, label: label, url: url})
	return nil
}

func (n *fakeNotifier) deliveries() []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]delivery(nil), n.sent...)
}

func (n *fakeNotifier) failTimes(userID int64, times int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fails[userID] = times
}

func testBox(t *testing.T) *secrets.Box {
	t.Helper()
	box, err := secrets.NewBox(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	if err != nil {
		t.Fatal(err)
	}
	return box
}

type hookFixture struct {
	registry *fakeRegistry
	notifier *fakeNotifier
	manager  *Manager
	ts       *httptest.Server

	// capURL is the capability URL for acme/widgets, rebased onto ts.
	capURL string
	secret string
}

const registrant int64 = 100

func newHookFixture(t *testing.T) *hookFixture {
	t.Helper()

	box := testBox(t)
	registry := newFakeRegistry()
	notifier := &fakeNotifier{fails: make(map[int64]int)}

	manager := NewManager(registry, box, "test-jwt-secret", "https://bot.example.com")
	server := NewServer(manager, registry, box, notifier)
	server.retry = retry.Config{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2.0}

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	const secret = "hub-secret"
	capURL, err := manager.Register(context.Background(), registrant, "acme", "widgets", secret)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	return &hookFixture{
		registry: registry,
		notifier: notifier,
		manager:  manager,
		ts:       ts,
		capURL:   ts.URL + strings.TrimPrefix(capURL, "https://bot.example.com"),
		secret:   secret,
	}
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (f *hookFixture) deliver(t *testing.T, event string, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.capURL, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

var prOpened = []byte(`{
	"action": "opened",
	"repository": {"full_name": "acme/widgets", "html_url": "https://github.com/acme/widgets"},
	"pull_request": {
		"number": 7,
		"title": "Add pagination",
		"html_url": "https://github.com/acme/widgets/pull/7",
		"user": {"login": "octocat"}
	}
}`)

func TestDelivery_FanOutToAllSubscribers(t *testing.T) {
	fx := newHookFixture(t)
	if err := fx.manager.Subscribe(context.Background(), 200, "acme", "widgets"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	resp := fx.deliver(t, "pull_request", prOpened, signBody(prOpened, fx.secret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	sent := fx.notifier.deliveries()
	if len(sent) != 2 {
		t.Fatalf("deliveries = %d, want 2 (registrant and subscriber)", len(sent))
	}
	for _, d := range sent {
		if !strings.Contains(d.text, "acme/widgets") || !strings.Contains(d.text, "#7") {
			t.Errorf("notification text %q misses repo or number", d.text)
		}
		if d.label != "открыть на GitHub" {
			t.Errorf("label = %q", d.label)
		}
		if d.url != "https://github.com/acme/widgets/pull/7" {
			t.Errorf("url = %q", d.url)
		}
	}
	if sent[0].userID == sent[1].userID {
		t.Errorf("both deliveries went to user %d", sent[0].userID)
	}
}

func TestDelivery_RejectsBadSignature(t *testing.T) {
	fx := newHookFixture(t)

	cases := []struct {
		name string
		sig  string
	}{
		{"missing header", ""},
		{"wrong secret", signBody(prOpened, "not-the-secret")},
		{"not hex", "sha256=zzzz"},
		{"wrong scheme", "sha1=" + strings.Repeat("ab", 20)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp := fx.deliver(t, "pull_request", prOpened, c.sig)
			if resp.StatusCode != http.StatusForbidden {
				t.Fatalf("status = %d, want 403", resp.StatusCode)
			}
		})
	}
	if got := fx.notifier.deliveries(); len(got) != 0 {
		t.Fatalf("unsigned deliveries reached the notifier: %d", len(got))
	}
}

func TestDelivery_AnswersPing(t *testing.T) {
	fx := newHookFixture(t)
	body := []byte(`{"zen": "Keep it logically awesome."}`)

	resp := fx.deliver(t, "ping", body, signBody(body, fx.secret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out, _ := io.ReadAll(resp.Body)
	if string(out) != "pong" {
		t.Fatalf("body = %q, want pong", out)
	}
	if got := fx.notifier.deliveries(); len(got) != 0 {
		t.Fatalf("ping must not notify anyone, got %d", len(got))
	}
}

func TestDelivery_UnknownTokenIs404(t *testing.T) {
	fx := newHookFixture(t)

	resp, err := http.Post(fx.ts.URL+"/github/webhook/forged-token", "application/json", bytes.NewReader(prOpened))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDelivery_DisabledHookIsGone(t *testing.T) {
	fx := newHookFixture(t)
	if err := fx.manager.Unregister(context.Background(), registrant, "acme", "widgets"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	resp := fx.deliver(t, "pull_request", prOpened, signBody(prOpened, fx.secret))
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("status = %d, want 410", resp.StatusCode)
	}
	if got := fx.notifier.deliveries(); len(got) != 0 {
		t.Fatalf("disabled hook still delivered %d notifications", len(got))
	}
}

func TestDelivery_NoisyActionsIgnored(t *testing.T) {
	fx := newHookFixture(t)
	body := bytes.Replace(prOpened, []byte(`"opened"`), []byte(`"synchronize"`), 1)

	resp := fx.deliver(t, "pull_request", body, signBody(body, fx.secret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out, _ := io.ReadAll(resp.Body)
	if string(out) != "ignored" {
		t.Fatalf("body = %q, want ignored", out)
	}
	if got := fx.notifier.deliveries(); len(got) != 0 {
		t.Fatalf("ignored action still notified %d users", len(got))
	}
}

func TestDelivery_RepositoryMismatchRefused(t *testing.T) {
	fx := newHookFixture(t)
	body := bytes.Replace(prOpened, []byte("acme/widgets"), []byte("acme/other"), 1)

	resp := fx.deliver(t, "pull_request", body, signBody(body, fx.secret))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if got := fx.notifier.deliveries(); len(got) != 0 {
		t.Fatalf("mismatched repo still notified %d users", len(got))
	}
}

func TestDelivery_RetriesTransientSendFailures(t *testing.T) {
	fx := newHookFixture(t)
	fx.notifier.failTimes(registrant, 2) // first two attempts bounce

	resp := fx.deliver(t, "pull_request", prOpened, signBody(prOpened, fx.secret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	sent := fx.notifier.deliveries()
	if len(sent) != 1 || sent[0].userID != registrant {
		t.Fatalf("deliveries = %+v, want exactly one to the registrant", sent)
	}
}

func TestSignatureOK(t *testing.T) {
	body := []byte("payload bytes")
	good := signBody(body, "s")

	if !signatureOK(body, "s", good) {
		t.Fatal("valid signature rejected")
	}
	if signatureOK(body, "other", good) {
		t.Fatal("signature accepted under the wrong secret")
	}
	if signatureOK([]byte("tampered"), "s", good) {
		t.Fatal("signature accepted for altered body")
	}
}
