package navigator

import (
	"context"
	"html"

	"go.uber.org/zap"

	"github.com/Iskam31/YADISKTGBOT/internal/logging"
	"github.com/Iskam31/YADISKTGBOT/internal/pathtoken"
	"github.com/Iskam31/YADISKTGBOT/internal/session"
)

// HandleAction parses one callback payload and executes it. The caller holds
// the session lock for the whole call, so reads and writes of the pending
// action and path table are serialized per user.
func (n *Navigator) HandleAction(ctx context.Context, userID int64, sess *session.Session, data string) (*Reply, error) {
	act, err := ParseAction(data)
	if err != nil {
		return nil, err
	}

	switch act.Op {
	case OpNoop:
		return &Reply{}, nil

	case OpOpen:
		path, err := pathtoken.Decode(act.Token, sess.Paths())
		if err != nil {
			return nil, err
		}
		page, err := n.Render(ctx, userID, sess, path, act.Offset, act.Mode)
		if err != nil {
			return nil, err
		}
		return &Reply{Page: page}, nil

	case OpFileInfo:
		return n.fileInfo(ctx, userID, sess, act.Token)

	case OpPublish:
		return n.publish(ctx, userID, sess, act.Token)

	case OpDeleteRequest:
		return n.deleteRequest(sess, act.Token)

	case OpDeleteConfirm:
		return n.deleteConfirm(ctx, userID, sess)

	case OpDeleteCancel:
		return n.cancel(ctx, userID, sess)

	case OpPickFolder:
		return n.pickFolder(sess, act.Token)
	}

	return nil, invalidAction(data)
}

// fileInfo shows a file's detail card with its per-entry operations.
func (n *Navigator) fileInfo(ctx context.Context, userID int64, sess *session.Session, token string) (*Reply, error) {
	path, err := pathtoken.Decode(token, sess.Paths())
	if err != nil {
		return nil, err
	}

	disk, err := n.open(ctx, userID)
	if err != nil {
		return nil, err
	}
	entry, err := disk.Stat(ctx, path)
	if err != nil {
		return nil, err
	}

	text := "📄 <b>" + html.EscapeString(entry.Name) + "</b>\n\n" +
		"Путь: <code>" + html.EscapeString(entry.Path) + "</code>\n" +
		"Размер: " + FormatSize(entry.Size)

	var actions []Button
	if entry.PublicURL != "" {
		actions = append(actions, Button{Label: "🌐 Открыть", URL: entry.PublicURL})
	} else {
		actions = append(actions, Button{Label: "🔗 Опубликовать", Data: entryData(OpPublish, token)})
	}
	actions = append(actions, Button{Label: "🗑 Удалить", Data: entryData(OpDeleteRequest, token)})

	backTok := pathtoken.Encode(parentPath(path), sess.Paths())
	page := &Page{
		Text: text,
		Buttons: [][]Button{
			actions,
			{{Label: "⬅️ Назад", Data: navData(OpOpen, ModeBrowse, 0, backTok)}},
		},
	}
	return &Reply{Page: page}, nil
}

// publish makes the file public and shows the link.
func (n *Navigator) publish(ctx context.Context, userID int64, sess *session.Session, token string) (*Reply, error) {
	path, err := pathtoken.Decode(token, sess.Paths())
	if err != nil {
		return nil, err
	}

	disk, err := n.open(ctx, userID)
	if err != nil {
		return nil, err
	}
	url, err := disk.Publish(ctx, path)
	if err != nil {
		return nil, err
	}

	logging.Info("path published",
		zap.Int64("user_id", userID),
		zap.String("path", path))

	text := "🔗 <b>" + html.EscapeString(baseName(path)) + "</b>\n\n" +
		"<code>" + html.EscapeString(url) + "</code>"
	backTok := pathtoken.Encode(parentPath(path), sess.Paths())
	page := &Page{
		Text: text,
		Buttons: [][]Button{
			{{Label: "🌐 Открыть", URL: url}},
			{{Label: "⬅️ Назад", Data: navData(OpOpen, ModeBrowse, 0, backTok)}},
		},
	}
	return &Reply{Page: page, Toast: "Ссылка готова"}, nil
}

// deleteRequest resolves the target now and parks it on the session, so the
// later confirmation acts on exactly this path no matter what was rendered
// in between.
func (n *Navigator) deleteRequest(sess *session.Session, token string) (*Reply, error) {
	path, err := pathtoken.Decode(token, sess.Paths())
	if err != nil {
		return nil, err
	}

	sess.SetPending(session.Pending{Kind: session.PendingDeleteConfirm, Path: path})

	text := "⚠️ Удалить <b>" + html.EscapeString(baseName(path)) + "</b>?\n\n" +
		"Путь: <code>" + html.EscapeString(path) + "</code>\n" +
		"Это действие необратимо."
	page := &Page{
		Text: text,
		Buttons: [][]Button{{
			{Label: "✅ Да, удалить", Data: string(OpDeleteConfirm)},
			{Label: "❌ Отмена", Data: string(OpDeleteCancel)},
		}},
	}
	return &Reply{Page: page}, nil
}

// deleteConfirm executes the pending delete with its attached path. The
// pending action is consumed before the remote call so a failed delete
// leaves the user idle rather than armed.
func (n *Navigator) deleteConfirm(ctx context.Context, userID int64, sess *session.Session) (*Reply, error) {
	p := sess.Pending()
	if p.Kind != session.PendingDeleteConfirm || p.Path == "" {
		return &Reply{Toast: "Нет ожидающего удаления."}, nil
	}
	sess.ClearPending()

	disk, err := n.open(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := disk.Delete(ctx, p.Path); err != nil {
		return nil, err
	}

	logging.Info("remote path deleted",
		zap.Int64("user_id", userID),
		zap.String("path", p.Path))

	page, err := n.Render(ctx, userID, sess, parentPath(p.Path), 0, ModeBrowse)
	if err != nil {
		return nil, err
	}
	return &Reply{Page: page, Toast: "🗑 Удалено"}, nil
}

// cancel discards the pending action. A cancelled delete returns to the
// directory the target lived in; anything else gets a plain confirmation.
func (n *Navigator) cancel(ctx context.Context, userID int64, sess *session.Session) (*Reply, error) {
	p := sess.Pending()
	sess.ClearPending()

	if p.Kind == session.PendingDeleteConfirm && p.Path != "" {
		page, err := n.Render(ctx, userID, sess, parentPath(p.Path), 0, ModeBrowse)
		if err != nil {
			return nil, err
		}
		return &Reply{Page: page, Toast: "Отменено"}, nil
	}
	return &Reply{Text: "❌ Действие отменено.", Toast: "Отменено"}, nil
}

// pickFolder records the rendered folder as the upload target and tells the
// user to send the file.
func (n *Navigator) pickFolder(sess *session.Session, token string) (*Reply, error) {
	path, err := pathtoken.Decode(token, sess.Paths())
	if err != nil {
		return nil, err
	}

	sess.SetPending(session.Pending{Kind: session.PendingUploadTarget, Path: path})

	text := "📁 Папка выбрана: <code>" + html.EscapeString(path) + "</code>\n\n" +
		"Теперь отправьте файл, и я загружу его туда."
	page := &Page{
		Text:    text,
		Buttons: [][]Button{{{Label: "❌ Отмена", Data: string(OpDeleteCancel)}}},
	}
	return &Reply{Page: page}, nil
}
