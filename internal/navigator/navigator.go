// Package navigator renders remote directory pages and drives the callback
// action state machine behind the bot's inline keyboards.
//
// A render lists one page of a directory, encodes every shown path into a
// callback token, and commits the session's path table as one snapshot. The
// produced Page is transport-agnostic; the bot layer turns it into chat
// markup. Callback payloads come back through HandleAction, which parses
// them into a closed set of actions and executes them against the remote
// disk and the user's pending action.
package navigator

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/Iskam31/YADISKTGBOT/internal/creds"
	"github.com/Iskam31/YADISKTGBOT/internal/logging"
	"github.com/Iskam31/YADISKTGBOT/internal/metrics"
	"github.com/Iskam31/YADISKTGBOT/internal/pathtoken"
	"github.com/Iskam31/YADISKTGBOT/internal/remote"
	"github.com/Iskam31/YADISKTGBOT/internal/session"
)

// labelRunes caps button labels; longer names keep the first 27 runes plus
// an ellipsis.
const labelRunes = 30

// Button is one inline control. Data carries a callback payload; URL makes
// a link button instead.
type Button struct {
	Label string
	Data  string
	URL   string
}

// Page is a rendered screen: HTML text plus button rows.
type Page struct {
	Text    string
	Buttons [][]Button
}

// Reply is the outcome of one handled action. Page replaces the screen the
// button lived on; Text replaces it with plain prose; Toast is flashed as
// the callback answer. All fields optional.
type Reply struct {
	Page  *Page
	Text  string
	Toast string
}

// CredentialSource resolves a user's disk credential.
type CredentialSource interface {
	Resolve(ctx context.Context, userID int64) (*creds.Credential, error)
}

// Navigator renders directory pages for a remote disk.
type Navigator struct {
	opener   remote.Opener
	creds    CredentialSource
	pageSize int
}

// New creates a Navigator listing pageSize entries per screen.
func New(opener remote.Opener, cs CredentialSource, pageSize int) *Navigator {
	return &Navigator{opener: opener, creds: cs, pageSize: pageSize}
}

// Render lists one page of path and builds its screen. The session's path
// table is replaced with a fresh snapshot covering the current path, its
// parent, and every listed child; the swap happens only after the whole
// page is built.
func (n *Navigator) Render(ctx context.Context, userID int64, sess *session.Session, path string, offset int, mode Mode) (*Page, error) {
	page, err := n.render(ctx, userID, sess, path, offset, mode)
	metrics.RecordRender(mode.Name(), err == nil)
	return page, err
}

func (n *Navigator) render(ctx context.Context, userID int64, sess *session.Session, path string, offset int, mode Mode) (*Page, error) {
	disk, err := n.open(ctx, userID)
	if err != nil {
		return nil, err
	}

	listing, err := disk.List(ctx, path, n.pageSize, offset)
	if err != nil {
		return nil, err
	}

	table := pathtoken.Table{}
	page := buildPage(listing, mode, table)
	sess.SetPaths(table)

	logging.Debug("directory rendered",
		zap.Int64("user_id", userID),
		zap.String("path", listing.Path),
		zap.String("mode", mode.Name()),
		zap.Int("entries", len(listing.Items)))
	return page, nil
}

func (n *Navigator) open(ctx context.Context, userID int64) (remote.Disk, error) {
	cred, err := n.creds.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return n.opener.Open(ctx, cred.Token)
}

func buildPage(listing *remote.Listing, mode Mode, table pathtoken.Table) *Page {
	curTok := pathtoken.Encode(listing.Path, table)

	var text strings.Builder
	text.WriteString("📂 <b>" + html.EscapeString(Breadcrumb(listing.Path)) + "</b>")
	if mode == ModeSelect {
		text.WriteString("\n\nВыберите папку для загрузки или сразу отправьте файл.")
	} else if listing.Total == 0 {
		text.WriteString("\n\nПапка пуста.")
	}

	var rows [][]Button

	if listing.Path != "/" && listing.Path != "" {
		parentTok := pathtoken.Encode(parentPath(listing.Path), table)
		rows = append(rows, []Button{{Label: "⬆️ ..", Data: navData(OpOpen, mode, 0, parentTok)}})
	}

	// Folders first, files after, remote order kept within each group.
	for _, e := range listing.Items {
		if e.Kind != remote.KindFolder {
			continue
		}
		tok := pathtoken.Encode(e.Path, table)
		rows = append(rows, []Button{{
			Label: "📁 " + truncateLabel(e.Name),
			Data:  navData(OpOpen, mode, 0, tok),
		}})
	}
	for _, e := range listing.Items {
		if e.Kind == remote.KindFolder {
			continue
		}
		b := Button{Label: "📄 " + truncateLabel(e.Name), Data: string(OpNoop)}
		if mode == ModeBrowse {
			b.Data = entryData(OpFileInfo, pathtoken.Encode(e.Path, table))
		}
		rows = append(rows, []Button{b})
	}

	if nav := pageControls(listing, mode, curTok); len(nav) > 0 {
		rows = append(rows, nav)
	}

	if mode == ModeSelect {
		rows = append(rows,
			[]Button{{Label: "✅ Выбрать эту папку", Data: entryData(OpPickFolder, curTok)}},
			[]Button{{Label: "❌ Отмена", Data: string(OpDeleteCancel)}})
	}

	return &Page{Text: text.String(), Buttons: rows}
}

// pageControls builds the pagination row: previous iff something precedes
// the page, next iff something follows it.
func pageControls(listing *remote.Listing, mode Mode, curTok string) []Button {
	hasPrev := listing.Offset > 0
	hasNext := listing.Offset+listing.Limit < listing.Total
	if !hasPrev && !hasNext {
		return nil
	}

	var row []Button
	if hasPrev {
		prev := listing.Offset - listing.Limit
		if prev < 0 {
			prev = 0
		}
		row = append(row, Button{Label: "⬅️", Data: navData(OpOpen, mode, prev, curTok)})
	}
	if listing.Limit > 0 {
		cur := listing.Offset/listing.Limit + 1
		total := (listing.Total + listing.Limit - 1) / listing.Limit
		row = append(row, Button{Label: fmt.Sprintf("%d/%d", cur, total), Data: string(OpNoop)})
	}
	if hasNext {
		row = append(row, Button{Label: "➡️", Data: navData(OpOpen, mode, listing.Offset+listing.Limit, curTok)})
	}
	return row
}

// Breadcrumb shortens a path to its three trailing segments, marking the cut
// with an ellipsis when anything was dropped.
func Breadcrumb(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	segs := strings.Split(trimmed, "/")
	if len(segs) > 3 {
		return "…/" + strings.Join(segs[len(segs)-3:], "/")
	}
	return "/" + strings.Join(segs, "/")
}

func truncateLabel(name string) string {
	r := []rune(name)
	if len(r) <= labelRunes {
		return name
	}
	return string(r[:labelRunes-3]) + "..."
}

// FormatSize renders a byte count the way the bot talks about sizes.
func FormatSize(n int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.2f GB", float64(n)/float64(gb))
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(mb))
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(kb))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func parentPath(path string) string {
	trimmed := strings.TrimRight(path, "/")
	i := strings.LastIndex(trimmed, "/")
	if i <= 0 {
		return "/"
	}
	return trimmed[:i]
}

func baseName(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return "/"
	}
	return trimmed
}
