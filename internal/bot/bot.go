// Package bot is the Telegram front-end: the long-poll update loop, the
// command and callback handlers, and the transport adapter the upload
// pipeline fetches blobs through.
//
// Updates arrive on independent goroutines, so every handler runs with the
// user's session lock held; one user's events are applied in order no
// matter how the transport delivers them.
package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Iskam31/YADISKTGBOT/internal/creds"
	"github.com/Iskam31/YADISKTGBOT/internal/github"
	"github.com/Iskam31/YADISKTGBOT/internal/logging"
	"github.com/Iskam31/YADISKTGBOT/internal/metrics"
	"github.com/Iskam31/YADISKTGBOT/internal/navigator"
	"github.com/Iskam31/YADISKTGBOT/internal/remote"
	"github.com/Iskam31/YADISKTGBOT/internal/session"
	"github.com/Iskam31/YADISKTGBOT/internal/store"
	"github.com/Iskam31/YADISKTGBOT/internal/transfer"
)

// Config holds bot front-end settings.
type Config struct {
	RateLimit int // updates per second per user
	RateBurst int
}

// Deps are the collaborators the bot drives.
type Deps struct {
	Sessions    *session.Store
	Navigator   *navigator.Navigator
	Pipeline    *transfer.Pipeline
	Credentials *creds.Resolver
	Records     *store.Store
	Opener      remote.Opener
	GitHub      *github.Manager // nil when webhooks are disabled
}

// Bot runs the Telegram update loop.
type Bot struct {
	api    *tgbotapi.BotAPI
	cfg    Config
	deps   Deps
	limits *limiters
}

// New creates a Bot around an authorized API client.
func New(api *tgbotapi.BotAPI, cfg Config, deps Deps) *Bot {
	return &Bot{
		api:    api,
		cfg:    cfg,
		deps:   deps,
		limits: newLimiters(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// Start long-polls for updates until ctx ends. Each update is handled on
// its own goroutine under the user's session lock.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	logging.Info("bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			logging.Info("bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("update handler panicked", zap.Any("panic", r))
		}
	}()

	user := update.SentFrom()
	if user == nil {
		return
	}

	kind := updateKind(update)
	start := time.Now()
	defer func() { metrics.RecordUpdate(kind, time.Since(start)) }()

	if !b.limits.allow(user.ID) {
		metrics.RecordRateLimitDrop()
		if update.CallbackQuery != nil {
			b.ack(update.CallbackQuery.ID, "Слишком много запросов, подождите немного.")
		}
		logging.Debug("update dropped by rate limiter", zap.Int64("user_id", user.ID))
		return
	}

	sess := b.deps.Sessions.Acquire(user.ID)
	defer sess.Release()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, sess, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, sess, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, sess *session.Session, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		// Any command implicitly cancels whatever was pending.
		sess.ClearPending()
		b.handleCommand(ctx, sess, msg)
		return
	}

	if blob, ok := blobFromMessage(msg); ok {
		b.handleBlob(ctx, sess, msg, blob)
		return
	}

	if msg.Text != "" {
		b.send(msg.Chat.ID, "Отправьте файл, чтобы загрузить его на диск, или посмотрите /help.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, sess *session.Session, q *tgbotapi.CallbackQuery) {
	if strings.HasPrefix(q.Data, recordDeletePrefix) {
		b.handleRecordDelete(ctx, q)
		return
	}

	reply, err := b.deps.Navigator.HandleAction(ctx, q.From.ID, sess, q.Data)
	if err != nil {
		b.ack(q.ID, translate(err))
		logging.Warn("callback action failed",
			zap.Int64("user_id", q.From.ID),
			zap.String("data", q.Data),
			zap.Error(err))
		return
	}

	b.ack(q.ID, reply.Toast)
	if q.Message == nil {
		return
	}
	switch {
	case reply.Page != nil:
		b.editPage(q.Message.Chat.ID, q.Message.MessageID, reply.Page)
	case reply.Text != "":
		b.edit(q.Message.Chat.ID, q.Message.MessageID, reply.Text)
	}
}

func (b *Bot) openDisk(ctx context.Context, userID int64) (remote.Disk, error) {
	cred, err := b.deps.Credentials.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return b.deps.Opener.Open(ctx, cred.Token)
}

func updateKind(update tgbotapi.Update) string {
	switch {
	case update.CallbackQuery != nil:
		return "callback"
	case update.Message == nil:
		return "other"
	case update.Message.IsCommand():
		return "command"
	default:
		if _, ok := blobFromMessage(update.Message); ok {
			return "file"
		}
		return "text"
	}
}

// send posts an HTML message to the chat and returns it for later edits.
func (b *Bot) send(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	sent, err := b.api.Send(msg)
	if err != nil {
		logging.Warn("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return sent, err
}

func (b *Bot) sendPage(chatID int64, page *navigator.Page) {
	msg := tgbotapi.NewMessage(chatID, page.Text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if len(page.Buttons) > 0 {
		msg.ReplyMarkup = keyboard(page.Buttons)
	}
	if _, err := b.api.Send(msg); err != nil {
		logging.Warn("send page", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	if _, err := b.api.Send(edit); err != nil {
		logging.Debug("edit message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) editPage(chatID int64, messageID int, page *navigator.Page) {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, page.Text, keyboard(page.Buttons))
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	if _, err := b.api.Send(edit); err != nil {
		logging.Debug("edit page", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) ack(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		logging.Debug("answer callback", zap.Error(err))
	}
}

// Notify delivers a webhook notification to the user's chat. Implements
// the github package's notifier.
func (b *Bot) Notify(ctx context.Context, userID int64, text, linkLabel, linkURL string) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if linkURL != "" {
		msg.ReplyMarkup = keyboard([][]navigator.Button{{{Label: linkLabel, URL: linkURL}}})
	}
	_, err := b.api.Send(msg)
	return err
}

func keyboard(rows [][]navigator.Button) tgbotapi.InlineKeyboardMarkup {
	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			if btn.URL != "" {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(btn.Label, btn.URL))
			} else {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Data))
			}
		}
		kb = append(kb, btns)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: kb}
}

// limiters is the per-user token bucket map.
type limiters struct {
	mu    sync.Mutex
	users map[int64]*rate.Limiter
	limit rate.Limit
	burst int
}

func newLimiters(limit rate.Limit, burst int) *limiters {
	return &limiters{users: make(map[int64]*rate.Limiter), limit: limit, burst: burst}
}

func (l *limiters) allow(userID int64) bool {
	l.mu.Lock()
	lim, ok := l.users[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.users[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
