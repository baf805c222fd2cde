package navigator

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Iskam31/YADISKTGBOT/internal/creds"
	"github.com/Iskam31/YADISKTGBOT/internal/pathtoken"
	"github.com/Iskam31/YADISKTGBOT/internal/remote"
	"github.com/Iskam31/YADISKTGBOT/internal/session"
	"github.com/Iskam31/YADISKTGBOT/internal/store"
)

type fakeDisk struct {
	listFn    func(path string, limit, offset int) (*remote.Listing, error)
	statFn    func(path string) (*remote.Entry, error)
	publishFn func(path string) (string, error)

	deleteErr error
	listed    []string
	deleted   []string
	published []string
}

func (d *fakeDisk) List(ctx context.Context, path string, limit, offset int) (*remote.Listing, error) {
	d.listed = append(d.listed, path)
	if d.listFn != nil {
		return d.listFn(path, limit, offset)
	}
	return &remote.Listing{Path: path, Limit: limit, Offset: offset}, nil
}

func (d *fakeDisk) Stat(ctx context.Context, path string) (*remote.Entry, error) {
	if d.statFn != nil {
		return d.statFn(path)
	}
	return &remote.Entry{Name: baseName(path), Path: path, Kind: remote.KindFile}, nil
}

func (d *fakeDisk) WriteTarget(ctx context.Context, path string, overwrite bool) (*remote.WriteTarget, error) {
	return &remote.WriteTarget{URL: "fake://" + path, Method: "PUT"}, nil
}

func (d *fakeDisk) Write(ctx context.Context, target *remote.WriteTarget, body io.Reader, size int64) error {
	return nil
}

func (d *fakeDisk) Publish(ctx context.Context, path string) (string, error) {
	d.published = append(d.published, path)
	if d.publishFn != nil {
		return d.publishFn(path)
	}
	return "https://public/" + baseName(path), nil
}

func (d *fakeDisk) Delete(ctx context.Context, path string) error {
	if d.deleteErr != nil {
		return d.deleteErr
	}
	d.deleted = append(d.deleted, path)
	return nil
}

func (d *fakeDisk) Mkdir(ctx context.Context, path string) error { return nil }

func (d *fakeDisk) Usage(ctx context.Context) (*remote.Usage, error) {
	return &remote.Usage{}, nil
}

type fakeOpener struct{ disk remote.Disk }

func (o *fakeOpener) Open(ctx context.Context, credential string) (remote.Disk, error) {
	return o.disk, nil
}

type fakeCreds struct {
	cred *creds.Credential
	err  error
}

func (c *fakeCreds) Resolve(ctx context.Context, userID int64) (*creds.Credential, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.cred, nil
}

func newNav(disk *fakeDisk) *Navigator {
	return New(&fakeOpener{disk: disk}, &fakeCreds{cred: &creds.Credential{Token: "tok"}}, 10)
}

func acquire(t *testing.T, uid int64) *session.Session {
	t.Helper()
	sess := session.NewStore().Acquire(uid)
	t.Cleanup(sess.Release)
	return sess
}

func findButton(t *testing.T, page *Page, labelPrefix string) Button {
	t.Helper()
	for _, row := range page.Buttons {
		for _, b := range row {
			if strings.HasPrefix(b.Label, labelPrefix) {
				return b
			}
		}
	}
	t.Fatalf("no button with label %q on page %q", labelPrefix, page.Text)
	return Button{}
}

func hasButton(page *Page, labelPrefix string) bool {
	for _, row := range page.Buttons {
		for _, b := range row {
			if strings.HasPrefix(b.Label, labelPrefix) {
				return true
			}
		}
	}
	return false
}

func tokenOf(t *testing.T, data string) string {
	t.Helper()
	i := strings.LastIndex(data, ":")
	if i < 0 {
		t.Fatalf("payload %q carries no token", data)
	}
	return data[i+1:]
}

func TestRender_FoldersBeforeFilesKeepingRemoteOrder(t *testing.T) {
	disk := &fakeDisk{listFn: func(path string, limit, offset int) (*remote.Listing, error) {
		return &remote.Listing{
			Path: "/mixed",
			Items: []remote.Entry{
				{Name: "zebra.txt", Path: "/mixed/zebra.txt", Kind: remote.KindFile},
				{Name: "beta", Path: "/mixed/beta", Kind: remote.KindFolder},
				{Name: "alpha.txt", Path: "/mixed/alpha.txt", Kind: remote.KindFile},
				{Name: "delta", Path: "/mixed/delta", Kind: remote.KindFolder},
			},
			Total: 4, Offset: 0, Limit: 10,
		}, nil
	}}

	page, err := newNav(disk).Render(context.Background(), 1, acquire(t, 1), "/mixed", 0, ModeBrowse)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	var labels []string
	for _, row := range page.Buttons {
		for _, b := range row {
			if strings.HasPrefix(b.Label, "📁") || strings.HasPrefix(b.Label, "📄") {
				labels = append(labels, b.Label)
			}
		}
	}
	want := []string{"📁 beta", "📁 delta", "📄 zebra.txt", "📄 alpha.txt"}
	if len(labels) != len(want) {
		t.Fatalf("entry rows = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, labels[i], want[i])
		}
	}
}

func TestRender_ParentRowOnlyBelowRoot(t *testing.T) {
	disk := &fakeDisk{}

	sess := acquire(t, 1)
	root, err := newNav(disk).Render(context.Background(), 1, sess, "/", 0, ModeBrowse)
	if err != nil {
		t.Fatalf("Render root: %v", err)
	}
	if hasButton(root, "⬆️") {
		t.Error("root page shows a parent row")
	}

	sub, err := newNav(disk).Render(context.Background(), 1, sess, "/docs", 0, ModeBrowse)
	if err != nil {
		t.Fatalf("Render /docs: %v", err)
	}
	up := findButton(t, sub, "⬆️")
	act, err := ParseAction(up.Data)
	if err != nil {
		t.Fatalf("ParseAction(%q): %v", up.Data, err)
	}
	parent, err := pathtoken.Decode(act.Token, sess.Paths())
	if err != nil {
		t.Fatalf("Decode parent token: %v", err)
	}
	if parent != "/" {
		t.Errorf("parent of /docs = %q, want /", parent)
	}
}

func TestRender_PaginationControls(t *testing.T) {
	tests := []struct {
		name       string
		offset     int
		total      int
		wantPrev   bool
		wantNext   bool
		prevOffset int
		nextOffset int
	}{
		{name: "single page", offset: 0, total: 5},
		{name: "first of many", offset: 0, total: 25, wantNext: true, nextOffset: 10},
		{name: "middle", offset: 10, total: 25, wantPrev: true, wantNext: true, prevOffset: 0, nextOffset: 20},
		{name: "last", offset: 20, total: 25, wantPrev: true, prevOffset: 10},
		{name: "exact boundary", offset: 10, total: 20, wantPrev: true, prevOffset: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disk := &fakeDisk{listFn: func(path string, limit, offset int) (*remote.Listing, error) {
				return &remote.Listing{Path: "/big", Total: tt.total, Offset: tt.offset, Limit: 10}, nil
			}}

			page, err := newNav(disk).Render(context.Background(), 1, acquire(t, 1), "/big", tt.offset, ModeBrowse)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}

			if got := hasButton(page, "⬅️"); got != tt.wantPrev {
				t.Errorf("prev shown = %v, want %v", got, tt.wantPrev)
			}
			if got := hasButton(page, "➡️"); got != tt.wantNext {
				t.Errorf("next shown = %v, want %v", got, tt.wantNext)
			}

			if tt.wantPrev {
				act, err := ParseAction(findButton(t, page, "⬅️").Data)
				if err != nil {
					t.Fatalf("parse prev: %v", err)
				}
				if act.Offset != tt.prevOffset {
					t.Errorf("prev offset = %d, want %d", act.Offset, tt.prevOffset)
				}
			}
			if tt.wantNext {
				act, err := ParseAction(findButton(t, page, "➡️").Data)
				if err != nil {
					t.Fatalf("parse next: %v", err)
				}
				if act.Offset != tt.nextOffset {
					t.Errorf("next offset = %d, want %d", act.Offset, tt.nextOffset)
				}
			}
		})
	}
}

func TestRender_SelectModeControls(t *testing.T) {
	disk := &fakeDisk{listFn: func(path string, limit, offset int) (*remote.Listing, error) {
		return &remote.Listing{
			Path: "/pick",
			Items: []remote.Entry{
				{Name: "sub", Path: "/pick/sub", Kind: remote.KindFolder},
				{Name: "readme.txt", Path: "/pick/readme.txt", Kind: remote.KindFile},
			},
			Total: 2, Offset: 0, Limit: 10,
		}, nil
	}}

	sess := acquire(t, 1)
	page, err := newNav(disk).Render(context.Background(), 1, sess, "/pick", 0, ModeSelect)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	pick := findButton(t, page, "✅")
	act, err := ParseAction(pick.Data)
	if err != nil {
		t.Fatalf("ParseAction(%q): %v", pick.Data, err)
	}
	if act.Op != OpPickFolder {
		t.Errorf("pick op = %q, want %q", act.Op, OpPickFolder)
	}
	if got, _ := pathtoken.Decode(act.Token, sess.Paths()); got != "/pick" {
		t.Errorf("pick target = %q, want /pick", got)
	}

	if !hasButton(page, "❌") {
		t.Error("select page has no cancel button")
	}

	// Folder buttons keep the select mode; file rows are inert.
	folder, err := ParseAction(findButton(t, page, "📁").Data)
	if err != nil {
		t.Fatalf("parse folder: %v", err)
	}
	if folder.Mode != ModeSelect {
		t.Errorf("folder button mode = %q, want %q", folder.Mode, ModeSelect)
	}
	if file := findButton(t, page, "📄"); file.Data != string(OpNoop) {
		t.Errorf("file button data = %q, want noop", file.Data)
	}
}

func TestRender_ReplacesTableWholesale(t *testing.T) {
	longA := "/first/" + strings.Repeat("a", 60)
	longB := "/second/" + strings.Repeat("b", 60)
	disk := &fakeDisk{listFn: func(path string, limit, offset int) (*remote.Listing, error) {
		child := longA
		if path == "/second" {
			child = longB
		}
		return &remote.Listing{
			Path:  path,
			Items: []remote.Entry{{Name: baseName(child), Path: child, Kind: remote.KindFile}},
			Total: 1, Offset: 0, Limit: 10,
		}, nil
	}}

	nav := newNav(disk)
	sess := acquire(t, 1)

	first, err := nav.Render(context.Background(), 1, sess, "/first", 0, ModeBrowse)
	if err != nil {
		t.Fatalf("Render /first: %v", err)
	}
	tokA := tokenOf(t, findButton(t, first, "📄").Data)
	if tokA[0] != 'h' {
		t.Fatalf("long path token %q is not indirect", tokA)
	}
	if _, err := pathtoken.Decode(tokA, sess.Paths()); err != nil {
		t.Fatalf("fresh token does not resolve: %v", err)
	}

	if _, err := nav.Render(context.Background(), 1, sess, "/second", 0, ModeBrowse); err != nil {
		t.Fatalf("Render /second: %v", err)
	}
	if _, err := pathtoken.Decode(tokA, sess.Paths()); !errors.Is(err, pathtoken.ErrStaleReference) {
		t.Errorf("token from the previous render resolved, err = %v", err)
	}
}

func TestRender_CredentialErrorsPassThrough(t *testing.T) {
	nav := New(&fakeOpener{disk: &fakeDisk{}}, &fakeCreds{err: store.ErrNotConfigured}, 10)

	_, err := nav.Render(context.Background(), 1, acquire(t, 1), "/", 0, ModeBrowse)
	if !errors.Is(err, store.ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestRender_LongNamesTruncated(t *testing.T) {
	name := strings.Repeat("ф", 45) + ".txt"
	disk := &fakeDisk{listFn: func(path string, limit, offset int) (*remote.Listing, error) {
		return &remote.Listing{
			Path:  "/",
			Items: []remote.Entry{{Name: name, Path: "/" + name, Kind: remote.KindFile}},
			Total: 1, Offset: 0, Limit: 10,
		}, nil
	}}

	page, err := newNav(disk).Render(context.Background(), 1, acquire(t, 1), "/", 0, ModeBrowse)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	label := findButton(t, page, "📄").Label
	trimmed := strings.TrimPrefix(label, "📄 ")
	if got := len([]rune(trimmed)); got != labelRunes {
		t.Errorf("label %q is %d runes, want %d", trimmed, got, labelRunes)
	}
	if !strings.HasSuffix(trimmed, "...") {
		t.Errorf("label %q does not mark the cut", trimmed)
	}
}

func TestBreadcrumb(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/", want: "/"},
		{path: "", want: "/"},
		{path: "/docs", want: "/docs"},
		{path: "/a/b", want: "/a/b"},
		{path: "/a/b/c", want: "/a/b/c"},
		{path: "/a/b/c/d", want: "…/b/c/d"},
		{path: "/a/b/c/d/e/f", want: "…/d/e/f"},
	}
	for _, tt := range tests {
		if got := Breadcrumb(tt.path); got != tt.want {
			t.Errorf("Breadcrumb(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{n: 0, want: "0 B"},
		{n: 512, want: "512 B"},
		{n: 1536, want: "1.5 KB"},
		{n: 5 * 1024 * 1024, want: "5.0 MB"},
		{n: 3 * 1024 * 1024 * 1024, want: "3.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.n); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestParentPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/", want: "/"},
		{path: "/a", want: "/"},
		{path: "/a/b", want: "/a"},
		{path: "/a/b/", want: "/a"},
		{path: "/a/b/c.txt", want: "/a/b"},
	}
	for _, tt := range tests {
		if got := parentPath(tt.path); got != tt.want {
			t.Errorf("parentPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
