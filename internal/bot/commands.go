package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Iskam31/YADISKTGBOT/internal/logging"
	"github.com/Iskam31/YADISKTGBOT/internal/navigator"
	"github.com/Iskam31/YADISKTGBOT/internal/remote"
	"github.com/Iskam31/YADISKTGBOT/internal/session"
	"github.com/Iskam31/YADISKTGBOT/internal/store"
)

const recordDeletePrefix = "rec_del:"

func (b *Bot) handleCommand(ctx context.Context, sess *session.Session, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.cmdStart(msg)
	case "help":
		b.cmdHelp(msg)
	case "disk":
		b.cmdDisk(ctx, sess, msg)
	case "usage":
		b.cmdUsage(ctx, msg)
	case "recent":
		b.cmdRecent(ctx, msg)
	case "upload":
		b.cmdUpload(ctx, sess, msg)
	case "setfolder":
		b.cmdSetFolder(ctx, msg)
	case "settoken":
		b.cmdSetToken(ctx, msg)
	case "deltoken":
		b.cmdDelToken(ctx, msg)
	case "github":
		b.cmdGitHub(ctx, msg)
	default:
		b.send(msg.Chat.ID, "Не знаю такую команду. Посмотрите /help.")
	}
}

func (b *Bot) cmdStart(msg *tgbotapi.Message) {
	b.send(msg.Chat.ID,
		"👋 Привет! Я соединяю этот чат с вашим облачным диском.\n\n"+
			"📂 /disk — файлы и папки\n"+
			"⬆️ /upload — загрузить файл в выбранную папку\n"+
			"🕓 /recent — последние загрузки\n"+
			"💽 /usage — место на диске\n"+
			"🔑 /settoken — подключить диск\n"+
			"❓ /help — подробная справка\n\n"+
			"Начните с /settoken, затем просто пришлите мне файл.")
}

func (b *Bot) cmdHelp(msg *tgbotapi.Message) {
	b.send(msg.Chat.ID,
		"❓ <b>Справка</b>\n\n"+
			"<b>Диск</b>\n"+
			"/disk — обзор файлов и папок\n"+
			"/usage — занятое и свободное место\n"+
			"/recent — последние загрузки со ссылками\n\n"+
			"<b>Загрузка</b>\n"+
			"Пришлите файл, фото, видео или голосовое — я загружу его на диск и дам публичную ссылку.\n"+
			"/upload — сначала выбрать папку\n"+
			"/setfolder /путь — папка по умолчанию\n\n"+
			"<b>Подключение</b>\n"+
			"/settoken &lt;токен&gt; — сохранить OAuth-токен диска\n"+
			"/deltoken — удалить токен\n\n"+
			"<b>GitHub</b>\n"+
			"/github — уведомления о PR, задачах и CI из ваших репозиториев")
}

func (b *Bot) cmdDisk(ctx context.Context, sess *session.Session, msg *tgbotapi.Message) {
	page, err := b.deps.Navigator.Render(ctx, msg.From.ID, sess, "/", 0, navigator.ModeBrowse)
	if err != nil {
		b.send(msg.Chat.ID, translate(err))
		return
	}
	b.sendPage(msg.Chat.ID, page)
}

func (b *Bot) cmdUsage(ctx context.Context, msg *tgbotapi.Message) {
	disk, err := b.openDisk(ctx, msg.From.ID)
	if err != nil {
		b.send(msg.Chat.ID, translate(err))
		return
	}
	u, err := disk.Usage(ctx)
	if err != nil {
		b.send(msg.Chat.ID, translate(err))
		return
	}
	b.send(msg.Chat.ID, formatUsage(u))
}

func formatUsage(u *remote.Usage) string {
	var sb strings.Builder
	sb.WriteString("💽 <b>Место на диске</b>\n\n")
	if u.Total > 0 {
		pct := float64(u.Used) * 100 / float64(u.Total)
		fmt.Fprintf(&sb, "Всего: %s\n", navigator.FormatSize(u.Total))
		fmt.Fprintf(&sb, "Занято: %s (%.0f%%)\n", navigator.FormatSize(u.Used), pct)
		fmt.Fprintf(&sb, "Свободно: %s\n", navigator.FormatSize(u.Total-u.Used))
	} else {
		fmt.Fprintf(&sb, "Занято: %s\n", navigator.FormatSize(u.Used))
	}
	if u.Trash > 0 {
		fmt.Fprintf(&sb, "Корзина: %s\n", navigator.FormatSize(u.Trash))
	}
	return sb.String()
}

func (b *Bot) cmdRecent(ctx context.Context, msg *tgbotapi.Message) {
	page, err := b.recentPage(ctx, msg.From.ID)
	if err != nil {
		b.send(msg.Chat.ID, "⚠️ Не удалось получить список загрузок.")
		logging.Error("recent uploads", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return
	}
	b.sendPage(msg.Chat.ID, page)
}

func (b *Bot) recentPage(ctx context.Context, userID int64) (*navigator.Page, error) {
	rows, err := b.deps.Records.RecentUploads(ctx, userID, 10)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &navigator.Page{Text: "Вы ещё ничего не загружали через меня. Просто пришлите файл!"}, nil
	}

	var sb strings.Builder
	sb.WriteString("🕓 <b>Последние загрузки</b>\n\n")
	var buttons [][]navigator.Button
	for i, r := range rows {
		fmt.Fprintf(&sb, "%d. <b>%s</b> — %s · %s\n<code>%s</code>\n\n",
			i+1,
			html.EscapeString(r.Name),
			navigator.FormatSize(r.SizeBytes),
			r.UploadedAt.Format("02.01 15:04"),
			html.EscapeString(r.RemotePath))

		var row []navigator.Button
		if r.PublicURL != "" {
			row = append(row, navigator.Button{Label: fmt.Sprintf("🌐 %d", i+1), URL: r.PublicURL})
		}
		row = append(row, navigator.Button{
			Label: fmt.Sprintf("✖️ %d", i+1),
			Data:  recordDeletePrefix + strconv.FormatInt(r.ID, 10),
		})
		buttons = append(buttons, row)
	}
	sb.WriteString("✖️ убирает запись из списка, файл на диске остаётся.")
	return &navigator.Page{Text: sb.String(), Buttons: buttons}, nil
}

func (b *Bot) handleRecordDelete(ctx context.Context, q *tgbotapi.CallbackQuery) {
	id, err := strconv.ParseInt(strings.TrimPrefix(q.Data, recordDeletePrefix), 10, 64)
	if err != nil {
		b.ack(q.ID, "Не понимаю эту кнопку.")
		return
	}

	if err := b.deps.Records.DeleteUploadedFile(ctx, id, q.From.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			b.ack(q.ID, "Запись уже удалена.")
		} else {
			b.ack(q.ID, "⚠️ Не получилось, попробуйте ещё раз.")
			logging.Error("delete upload record", zap.Int64("id", id), zap.Error(err))
		}
		return
	}

	b.ack(q.ID, "Запись удалена")
	if q.Message == nil {
		return
	}
	page, err := b.recentPage(ctx, q.From.ID)
	if err != nil {
		logging.Error("refresh recent uploads", zap.Int64("user_id", q.From.ID), zap.Error(err))
		return
	}
	b.editPage(q.Message.Chat.ID, q.Message.MessageID, page)
}

func (b *Bot) cmdUpload(ctx context.Context, sess *session.Session, msg *tgbotapi.Message) {
	// Arm the upload target right away: sending a file without picking a
	// folder goes to the default one.
	sess.SetPending(session.Pending{Kind: session.PendingUploadTarget})

	page, err := b.deps.Navigator.Render(ctx, msg.From.ID, sess, "/", 0, navigator.ModeSelect)
	if err != nil {
		sess.ClearPending()
		b.send(msg.Chat.ID, translate(err))
		return
	}
	b.sendPage(msg.Chat.ID, page)
}

func (b *Bot) cmdSetFolder(ctx context.Context, msg *tgbotapi.Message) {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		b.send(msg.Chat.ID,
			"Укажите папку: <code>/setfolder /Загрузки</code>\n"+
				"Туда будут попадать файлы, если не выбрана другая папка.")
		return
	}

	folder := normalizeFolder(arg)

	disk, err := b.openDisk(ctx, msg.From.ID)
	if err != nil {
		b.send(msg.Chat.ID, translate(err))
		return
	}
	entry, err := disk.Stat(ctx, folder)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			b.send(msg.Chat.ID, "🤷 Папки <code>"+html.EscapeString(folder)+"</code> нет на диске.")
			return
		}
		b.send(msg.Chat.ID, translate(err))
		return
	}
	if entry.Kind != remote.KindFolder {
		b.send(msg.Chat.ID, "Это файл, а не папка: <code>"+html.EscapeString(folder)+"</code>")
		return
	}

	if err := b.deps.Records.SetDefaultFolder(ctx, msg.From.ID, folder); err != nil {
		b.send(msg.Chat.ID, translate(err))
		return
	}
	b.send(msg.Chat.ID, "📁 Папка по умолчанию: <code>"+html.EscapeString(folder)+"</code>")
}

func normalizeFolder(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if p != "/" {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func (b *Bot) cmdSetToken(ctx context.Context, msg *tgbotapi.Message) {
	token := strings.TrimSpace(msg.CommandArguments())
	if token == "" {
		b.send(msg.Chat.ID,
			"🔑 Пришлите токен одной командой:\n<code>/settoken ваш_токен</code>\n\n"+
				"Токен выдаёт страница OAuth вашего диска. Сообщение с токеном я сразу удалю.")
		return
	}

	// The message carries a secret; take it off the screen first.
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(msg.Chat.ID, msg.MessageID)); err != nil {
		logging.Debug("delete token message", zap.Error(err))
	}

	// Probe before saving so a mistyped token never lands in the store.
	disk, err := b.deps.Opener.Open(ctx, token)
	if err == nil {
		_, err = disk.Usage(ctx)
	}
	if err != nil {
		b.send(msg.Chat.ID, "❌ Диск не принял этот токен. Проверьте его и пришлите ещё раз.")
		logging.Info("credential probe failed", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return
	}

	if err := b.deps.Credentials.Save(ctx, msg.From.ID, token); err != nil {
		b.send(msg.Chat.ID, "⚠️ Не удалось сохранить токен, попробуйте ещё раз.")
		logging.Error("save credential", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return
	}

	// Cached listings belong to whatever disk was connected before.
	b.deps.Sessions.Reset(msg.From.ID)

	logging.Info("credential saved", zap.Int64("user_id", msg.From.ID))
	b.send(msg.Chat.ID, "✅ Диск подключён! Откройте его: /disk")
}

func (b *Bot) cmdDelToken(ctx context.Context, msg *tgbotapi.Message) {
	if err := b.deps.Credentials.Delete(ctx, msg.From.ID); err != nil {
		if errors.Is(err, store.ErrNotConfigured) {
			b.send(msg.Chat.ID, "Токен и не был сохранён.")
			return
		}
		b.send(msg.Chat.ID, "⚠️ Не удалось удалить токен.")
		logging.Error("delete credential", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return
	}
	b.deps.Sessions.Reset(msg.From.ID)
	b.send(msg.Chat.ID, "🗑 Токен удалён. Файлы на диске не тронуты.")
}

func (b *Bot) cmdGitHub(ctx context.Context, msg *tgbotapi.Message) {
	if b.deps.GitHub == nil {
		b.send(msg.Chat.ID, "🔌 Уведомления GitHub не настроены на этом сервере.")
		return
	}

	fields := strings.Fields(msg.CommandArguments())
	if len(fields) == 0 {
		b.send(msg.Chat.ID,
			"🐙 <b>GitHub-уведомления</b>\n\n"+
				"/github register owner/repo секрет — зарегистрировать вебхук\n"+
				"/github unregister owner/repo — отключить вебхук\n"+
				"/github subscribe owner/repo — подписаться на события\n"+
				"/github unsubscribe owner/repo — отписаться\n"+
				"/github list — мои подписки")
		return
	}

	switch fields[0] {
	case "register":
		if len(fields) < 3 {
			b.send(msg.Chat.ID, "Нужно так: <code>/github register owner/repo секрет</code>")
			return
		}
		owner, name, ok := parseRepo(fields[1])
		if !ok {
			b.send(msg.Chat.ID, "Репозиторий указывают как <code>owner/repo</code>.")
			return
		}
		// The secret is in the message; take it off the screen.
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(msg.Chat.ID, msg.MessageID)); err != nil {
			logging.Debug("delete secret message", zap.Error(err))
		}
		url, err := b.deps.GitHub.Register(ctx, msg.From.ID, owner, name, fields[2])
		if err != nil {
			b.send(msg.Chat.ID, "⚠️ Не удалось зарегистрировать вебхук.")
			logging.Error("register webhook", zap.String("repo", owner+"/"+name), zap.Error(err))
			return
		}
		b.send(msg.Chat.ID,
			"✅ Вебхук для <b>"+html.EscapeString(owner+"/"+name)+"</b> готов.\n\n"+
				"Добавьте его в GitHub: Settings → Webhooks → Add webhook\n"+
				"Payload URL: <code>"+html.EscapeString(url)+"</code>\n"+
				"Content type: <code>application/json</code>\n"+
				"Secret: тот, что вы прислали.\n\n"+
				"Вы уже подписаны на события этого репозитория.")

	case "unregister":
		owner, name, ok := repoArg(fields)
		if !ok {
			b.send(msg.Chat.ID, "Нужно так: <code>/github unregister owner/repo</code>")
			return
		}
		if err := b.deps.GitHub.Unregister(ctx, msg.From.ID, owner, name); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				b.send(msg.Chat.ID, "Такой вебхук не зарегистрирован.")
				return
			}
			b.send(msg.Chat.ID, "⚠️ Не удалось отключить вебхук.")
			return
		}
		b.send(msg.Chat.ID, "🔌 Вебхук <b>"+html.EscapeString(owner+"/"+name)+"</b> отключён.")

	case "subscribe":
		owner, name, ok := repoArg(fields)
		if !ok {
			b.send(msg.Chat.ID, "Нужно так: <code>/github subscribe owner/repo</code>")
			return
		}
		if err := b.deps.GitHub.Subscribe(ctx, msg.From.ID, owner, name); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				b.send(msg.Chat.ID, "Для этого репозитория ещё нет вебхука. Сначала: <code>/github register</code>")
				return
			}
			b.send(msg.Chat.ID, "⚠️ Не удалось подписаться.")
			return
		}
		b.send(msg.Chat.ID, "🔔 Подписка на <b>"+html.EscapeString(owner+"/"+name)+"</b> оформлена.")

	case "unsubscribe":
		owner, name, ok := repoArg(fields)
		if !ok {
			b.send(msg.Chat.ID, "Нужно так: <code>/github unsubscribe owner/repo</code>")
			return
		}
		if err := b.deps.GitHub.Unsubscribe(ctx, msg.From.ID, owner, name); err != nil {
			b.send(msg.Chat.ID, "⚠️ Не удалось отписаться.")
			return
		}
		b.send(msg.Chat.ID, "🔕 Вы отписались от <b>"+html.EscapeString(owner+"/"+name)+"</b>.")

	case "list":
		subs, err := b.deps.GitHub.Subscriptions(ctx, msg.From.ID)
		if err != nil {
			b.send(msg.Chat.ID, "⚠️ Не удалось получить подписки.")
			return
		}
		if len(subs) == 0 {
			b.send(msg.Chat.ID, "Подписок нет. Добавьте: <code>/github subscribe owner/repo</code>")
			return
		}
		var sb strings.Builder
		sb.WriteString("🔔 <b>Мои подписки</b>\n\n")
		for _, s := range subs {
			sb.WriteString("• " + html.EscapeString(s.RepoOwner+"/"+s.RepoName) + "\n")
		}
		b.send(msg.Chat.ID, sb.String())

	default:
		b.send(msg.Chat.ID, "Не знаю подкоманду <code>"+html.EscapeString(fields[0])+"</code>. Посмотрите /github.")
	}
}

func repoArg(fields []string) (owner, name string, ok bool) {
	if len(fields) < 2 {
		return "", "", false
	}
	return parseRepo(fields[1])
}

func parseRepo(s string) (owner, name string, ok bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
