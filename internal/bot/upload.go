package bot

import (
	"context"
	"errors"
	"html"
	"path"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Iskam31/YADISKTGBOT/internal/logging"
	"github.com/Iskam31/YADISKTGBOT/internal/navigator"
	"github.com/Iskam31/YADISKTGBOT/internal/remote"
	"github.com/Iskam31/YADISKTGBOT/internal/session"
	"github.com/Iskam31/YADISKTGBOT/internal/transfer"
)

// blobFromMessage extracts an uploadable attachment from a chat message.
// Photos, voice notes and unnamed media get a timestamped name since the
// transport does not carry one for them.
func blobFromMessage(msg *tgbotapi.Message) (transfer.Blob, bool) {
	switch {
	case msg.Document != nil:
		d := msg.Document
		name := d.FileName
		if name == "" {
			name = "document_" + stampOf(msg)
		}
		return transfer.Blob{FileID: d.FileID, Name: name, Size: int64(d.FileSize)}, true
	case msg.Video != nil:
		v := msg.Video
		name := v.FileName
		if name == "" {
			name = "video_" + stampOf(msg) + ".mp4"
		}
		return transfer.Blob{FileID: v.FileID, Name: name, Size: int64(v.FileSize)}, true
	case msg.Audio != nil:
		a := msg.Audio
		name := a.FileName
		if name == "" {
			name = "audio_" + stampOf(msg) + ".mp3"
		}
		return transfer.Blob{FileID: a.FileID, Name: name, Size: int64(a.FileSize)}, true
	case msg.Voice != nil:
		return transfer.Blob{
			FileID: msg.Voice.FileID,
			Name:   "voice_" + stampOf(msg) + ".ogg",
			Size:   int64(msg.Voice.FileSize),
		}, true
	case len(msg.Photo) > 0:
		// Telegram sends several sizes, the last one is the original.
		p := msg.Photo[len(msg.Photo)-1]
		return transfer.Blob{
			FileID: p.FileID,
			Name:   "photo_" + stampOf(msg) + ".jpg",
			Size:   int64(p.FileSize),
		}, true
	}
	return transfer.Blob{}, false
}

func stampOf(msg *tgbotapi.Message) string {
	return time.Unix(int64(msg.Date), 0).UTC().Format("20060102_150405")
}

func (b *Bot) handleBlob(ctx context.Context, sess *session.Session, msg *tgbotapi.Message, blob transfer.Blob) {
	// A pending upload target is consumed by exactly one file.
	var target string
	if p := sess.Pending(); p.Kind == session.PendingUploadTarget {
		target = p.Path
		sess.ClearPending()
	}

	statusID := 0
	if sent, err := b.send(msg.Chat.ID, "⏳ Загружаю <b>"+html.EscapeString(blob.Name)+"</b>…"); err == nil {
		statusID = sent.MessageID
	}
	statusFn := func(pct int) {}
	if statusID != 0 {
		statusFn = func(pct int) {
			b.edit(msg.Chat.ID, statusID,
				"⏳ Загружаю <b>"+html.EscapeString(blob.Name)+"</b>\n<code>"+progressBar(pct)+"</code>")
		}
	}

	res, err := b.deps.Pipeline.Upload(ctx, msg.From.ID, blob, target, statusFn)
	if err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			if ierr := b.deps.Credentials.Invalidate(ctx, msg.From.ID); ierr != nil {
				logging.Error("invalidate credential", zap.Int64("user_id", msg.From.ID), zap.Error(ierr))
			}
		}
		b.replaceStatus(msg.Chat.ID, statusID, &navigator.Page{Text: translate(err)})
		return
	}

	page := &navigator.Page{
		Text: "✅ <b>" + html.EscapeString(res.Name) + "</b> загружен!\n\n" +
			"Папка: <code>" + html.EscapeString(path.Dir(res.RemotePath)) + "</code>\n" +
			"Размер: " + navigator.FormatSize(res.Size),
	}
	if res.PublicURL != "" {
		page.Buttons = [][]navigator.Button{{{Label: "🌐 Открыть", URL: res.PublicURL}}}
	} else {
		page.Text += "\n\nПубличная ссылка не получилась, файл можно опубликовать через /disk."
	}
	b.replaceStatus(msg.Chat.ID, statusID, page)
}

// replaceStatus rewrites the progress message in place, falling back to a
// fresh message when the status send failed earlier.
func (b *Bot) replaceStatus(chatID int64, statusID int, page *navigator.Page) {
	if statusID != 0 {
		b.editPage(chatID, statusID, page)
		return
	}
	b.sendPage(chatID, page)
}

// progressBar renders percentages as a fixed-width ascii gauge, e.g.
// "[████░░░░░░] 40%".
func progressBar(pct int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	const width = 10
	filled := pct * width / 100
	var sb strings.Builder
	sb.WriteByte('[')
	sb.WriteString(strings.Repeat("█", filled))
	sb.WriteString(strings.Repeat("░", width-filled))
	sb.WriteByte(']')
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(pct))
	sb.WriteByte('%')
	return sb.String()
}
