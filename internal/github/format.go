package github

import (
	"fmt"
	"html"
	"strings"
)

// Note is one rendered notification: HTML text plus an optional link for
// the "открыть на GitHub" button.
type Note struct {
	Text string
	URL  string
}

// payload covers the fields this receiver reads across all event kinds.
// GitHub sends far more; everything else is ignored on decode.
type payload struct {
	Action string `json:"action"`

	Repository struct {
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`

	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`

	// push
	Ref     string `json:"ref"`
	Compare string `json:"compare"`
	Commits []struct {
		Message string `json:"message"`
	} `json:"commits"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`

	PullRequest *struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		HTMLURL string `json:"html_url"`
		Merged  bool   `json:"merged"`
		User    struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"pull_request"`

	Issue *struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		HTMLURL string `json:"html_url"`
		User    struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"issue"`

	Review *struct {
		State   string `json:"state"`
		HTMLURL string `json:"html_url"`
		User    struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"review"`

	Comment *struct {
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
		User    struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`

	CheckRun *struct {
		Name       string `json:"name"`
		Conclusion string `json:"conclusion"`
		HTMLURL    string `json:"html_url"`
	} `json:"check_run"`
}

// formatEvent renders one delivery, or returns nil for events and actions
// outside the mirrored set. Noisy actions like "synchronize" and
// "labeled" stay out of the chat on purpose.
func formatEvent(event string, p *payload) *Note {
	repo := html.EscapeString(p.Repository.FullName)

	switch event {
	case "push":
		if len(p.Commits) == 0 {
			return nil
		}
		branch := html.EscapeString(strings.TrimPrefix(p.Ref, "refs/heads/"))
		who := html.EscapeString(p.Pusher.Name)
		n := len(p.Commits)
		text := fmt.Sprintf("🔨 <b>%s</b>\n%s отправил %d %s в <code>%s</code>\n\n<i>%s</i>",
			repo, who, n, pluralize(n, "коммит", "коммита", "коммитов"), branch,
			html.EscapeString(headline(p.Commits[n-1].Message)))
		return &Note{Text: text, URL: p.Compare}

	case "pull_request":
		if p.PullRequest == nil {
			return nil
		}
		pr := p.PullRequest
		title := html.EscapeString(headline(pr.Title))
		author := html.EscapeString(pr.User.Login)
		var text string
		switch p.Action {
		case "opened":
			text = fmt.Sprintf("🔀 <b>%s</b>\nНовый pull request #%d от %s:\n<i>%s</i>", repo, pr.Number, author, title)
		case "closed":
			if pr.Merged {
				text = fmt.Sprintf("🎉 <b>%s</b>\nPull request #%d влит:\n<i>%s</i>", repo, pr.Number, title)
			} else {
				text = fmt.Sprintf("❌ <b>%s</b>\nPull request #%d закрыт без слияния:\n<i>%s</i>", repo, pr.Number, title)
			}
		case "reopened":
			text = fmt.Sprintf("♻️ <b>%s</b>\nPull request #%d открыт заново:\n<i>%s</i>", repo, pr.Number, title)
		default:
			return nil
		}
		return &Note{Text: text, URL: pr.HTMLURL}

	case "issues":
		if p.Issue == nil {
			return nil
		}
		is := p.Issue
		title := html.EscapeString(headline(is.Title))
		author := html.EscapeString(is.User.Login)
		var text string
		switch p.Action {
		case "opened":
			text = fmt.Sprintf("🐛 <b>%s</b>\nНовая задача #%d от %s:\n<i>%s</i>", repo, is.Number, author, title)
		case "closed":
			text = fmt.Sprintf("✅ <b>%s</b>\nЗадача #%d закрыта:\n<i>%s</i>", repo, is.Number, title)
		case "reopened":
			text = fmt.Sprintf("♻️ <b>%s</b>\nЗадача #%d открыта заново:\n<i>%s</i>", repo, is.Number, title)
		default:
			return nil
		}
		return &Note{Text: text, URL: is.HTMLURL}

	case "pull_request_review":
		if p.Action != "submitted" || p.Review == nil || p.PullRequest == nil {
			return nil
		}
		reviewer := html.EscapeString(p.Review.User.Login)
		var verdict string
		switch p.Review.State {
		case "approved":
			verdict = "👍 одобрил"
		case "changes_requested":
			verdict = "✏️ запросил изменения в"
		default:
			verdict = "💬 оставил ревью на"
		}
		text := fmt.Sprintf("<b>%s</b>\n%s %s pull request #%d", repo, reviewer, verdict, p.PullRequest.Number)
		return &Note{Text: text, URL: p.Review.HTMLURL}

	case "issue_comment":
		if p.Action != "created" || p.Comment == nil || p.Issue == nil {
			return nil
		}
		author := html.EscapeString(p.Comment.User.Login)
		text := fmt.Sprintf("💬 <b>%s</b>\n%s прокомментировал #%d:\n<i>%s</i>",
			repo, author, p.Issue.Number, html.EscapeString(headline(p.Comment.Body)))
		return &Note{Text: text, URL: p.Comment.HTMLURL}

	case "check_run":
		if p.Action != "completed" || p.CheckRun == nil {
			return nil
		}
		cr := p.CheckRun
		var badge string
		switch cr.Conclusion {
		case "success":
			badge = "✅"
		case "failure", "timed_out":
			badge = "❌"
		case "cancelled":
			badge = "🚫"
		default:
			badge = "ℹ️"
		}
		text := fmt.Sprintf("%s <b>%s</b>\nПроверка <code>%s</code>: %s",
			badge, repo, html.EscapeString(cr.Name), html.EscapeString(cr.Conclusion))
		return &Note{Text: text, URL: cr.HTMLURL}
	}

	return nil
}

// headline takes the first line and keeps it chat-sized.
func headline(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > 100 {
		return string(r[:97]) + "..."
	}
	return s
}

// pluralize picks the Russian form for n: one/few/many.
func pluralize(n int, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	switch {
	case n%100 >= 11 && n%100 <= 14:
		return many
	case n%10 == 1:
		return one
	case n%10 >= 2 && n%10 <= 4:
		return few
	default:
		return many
	}
}
