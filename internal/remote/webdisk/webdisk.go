// Package webdisk implements remote.Disk against a Yandex-Disk-compatible
// REST API. The credential is the user's OAuth token, sent as
// "Authorization: OAuth <token>" on every call.
package webdisk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Iskam31/YADISKTGBOT/internal/metrics"
	"github.com/Iskam31/YADISKTGBOT/internal/remote"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://cloud-api.yandex.net/v1/disk"

// Opener creates disks bound to one OAuth token each. The HTTP clients are
// shared across users; the API client is bounded by a request timeout while
// uploads run as long as their context allows.
type Opener struct {
	baseURL string
	api     *http.Client
	upload  *http.Client
}

// NewOpener creates an Opener for the given API base URL.
func NewOpener(baseURL string) *Opener {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Opener{
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     &http.Client{Timeout: 30 * time.Second},
		upload:  &http.Client{},
	}
}

// Open binds the credential. No network call is made; a bad token shows up
// on the first disk operation as ErrUnauthorized.
func (o *Opener) Open(ctx context.Context, credential string) (remote.Disk, error) {
	token := strings.TrimSpace(credential)
	if token == "" {
		return nil, remote.Call(remote.OpOpen, fmt.Errorf("empty token"))
	}
	return &Client{baseURL: o.baseURL, token: token, api: o.api, upload: o.upload}, nil
}

// Client talks to one user's disk.
type Client struct {
	baseURL string
	token   string
	api     *http.Client
	upload  *http.Client
}

type resourceJSON struct {
	Name      string        `json:"name"`
	Path      string        `json:"path"`
	Type      string        `json:"type"`
	Size      int64         `json:"size"`
	PublicURL string        `json:"public_url"`
	Embedded  *embeddedJSON `json:"_embedded"`
}

type embeddedJSON struct {
	Items  []resourceJSON `json:"items"`
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

type linkJSON struct {
	Href   string `json:"href"`
	Method string `json:"method"`
}

type errorJSON struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}

type diskJSON struct {
	TotalSpace int64 `json:"total_space"`
	UsedSpace  int64 `json:"used_space"`
	TrashSize  int64 `json:"trash_size"`
}

// normalizePath strips the remote's "disk:" scheme so the rest of the bot
// only ever sees plain slash-rooted paths.
func normalizePath(p string) string {
	return strings.TrimPrefix(p, "disk:")
}

func diskPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func (c *Client) call(ctx context.Context, method, endpoint string, q url.Values) (int, []byte, error) {
	u := c.baseURL + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "OAuth "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func apiError(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return remote.ErrUnauthorized
	case http.StatusNotFound:
		return remote.ErrNotFound
	}
	var e errorJSON
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("api returned %d: %s", status, e.Message)
	}
	return fmt.Errorf("api returned %d", status)
}

func kindOf(t string) remote.Kind {
	if t == "dir" {
		return remote.KindFolder
	}
	return remote.KindFile
}

// List returns one page of a directory in the remote's own order.
func (c *Client) List(ctx context.Context, path string, limit, offset int) (*remote.Listing, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("path", diskPath(path))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	status, body, err := c.call(ctx, "GET", "/resources", q)
	if err == nil && status != http.StatusOK {
		err = apiError(status, body)
	}
	var res resourceJSON
	if err == nil {
		err = json.Unmarshal(body, &res)
	}
	if err == nil && res.Embedded == nil {
		err = fmt.Errorf("%s is not a directory", path)
	}
	if err != nil {
		metrics.RecordRemoteOp(remote.OpList, time.Since(start), false)
		return nil, remote.Call(remote.OpList, err)
	}
	metrics.RecordRemoteOp(remote.OpList, time.Since(start), true)

	items := make([]remote.Entry, 0, len(res.Embedded.Items))
	for _, it := range res.Embedded.Items {
		items = append(items, remote.Entry{
			Name:      it.Name,
			Path:      normalizePath(it.Path),
			Kind:      kindOf(it.Type),
			Size:      it.Size,
			PublicURL: it.PublicURL,
		})
	}
	return &remote.Listing{
		Path:   normalizePath(res.Path),
		Items:  items,
		Total:  res.Embedded.Total,
		Offset: res.Embedded.Offset,
		Limit:  res.Embedded.Limit,
	}, nil
}

// Stat returns metadata for a single path.
func (c *Client) Stat(ctx context.Context, path string) (*remote.Entry, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("path", diskPath(path))
	q.Set("limit", "0")

	status, body, err := c.call(ctx, "GET", "/resources", q)
	if err == nil && status != http.StatusOK {
		err = apiError(status, body)
	}
	var res resourceJSON
	if err == nil {
		err = json.Unmarshal(body, &res)
	}
	if err != nil {
		metrics.RecordRemoteOp(remote.OpStat, time.Since(start), false)
		return nil, remote.Call(remote.OpStat, err)
	}
	metrics.RecordRemoteOp(remote.OpStat, time.Since(start), true)

	return &remote.Entry{
		Name:      res.Name,
		Path:      normalizePath(res.Path),
		Kind:      kindOf(res.Type),
		Size:      res.Size,
		PublicURL: res.PublicURL,
	}, nil
}

// WriteTarget asks the API for a one-shot upload URL.
func (c *Client) WriteTarget(ctx context.Context, path string, overwrite bool) (*remote.WriteTarget, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("path", diskPath(path))
	q.Set("overwrite", strconv.FormatBool(overwrite))

	status, body, err := c.call(ctx, "GET", "/resources/upload", q)
	if err == nil && status != http.StatusOK {
		err = apiError(status, body)
	}
	var link linkJSON
	if err == nil {
		err = json.Unmarshal(body, &link)
	}
	if err == nil && link.Href == "" {
		err = fmt.Errorf("no upload href returned")
	}
	if err != nil {
		metrics.RecordRemoteOp(remote.OpWriteTarget, time.Since(start), false)
		return nil, remote.Call(remote.OpWriteTarget, err)
	}
	metrics.RecordRemoteOp(remote.OpWriteTarget, time.Since(start), true)

	method := link.Method
	if method == "" {
		method = http.MethodPut
	}
	return &remote.WriteTarget{URL: link.Href, Method: method, Header: http.Header{}}, nil
}

// Write streams body to a target obtained from WriteTarget. The target URL
// points at the upload host and needs no auth header.
func (c *Client) Write(ctx context.Context, target *remote.WriteTarget, body io.Reader, size int64) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, target.Method, target.URL, body)
	if err != nil {
		metrics.RecordRemoteOp(remote.OpWrite, time.Since(start), false)
		return remote.Call(remote.OpWrite, err)
	}
	req.ContentLength = size
	for k, vs := range target.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.upload.Do(req)
	if err != nil {
		metrics.RecordRemoteOp(remote.OpWrite, time.Since(start), false)
		return remote.Call(remote.OpWrite, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		metrics.RecordRemoteOp(remote.OpWrite, time.Since(start), true)
		return nil
	default:
		metrics.RecordRemoteOp(remote.OpWrite, time.Since(start), false)
		return remote.Call(remote.OpWrite, fmt.Errorf("upload returned %d", resp.StatusCode))
	}
}

// Publish makes a path public and returns its public URL. Publishing an
// already-public path is a no-op on the remote side.
func (c *Client) Publish(ctx context.Context, path string) (string, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("path", diskPath(path))

	status, body, err := c.call(ctx, "PUT", "/resources/publish", q)
	if err == nil && status != http.StatusOK && status != http.StatusAccepted {
		err = apiError(status, body)
	}
	if err != nil {
		metrics.RecordRemoteOp(remote.OpPublish, time.Since(start), false)
		return "", remote.Call(remote.OpPublish, err)
	}

	// The publish response carries a link to the resource, not the public
	// URL itself; fetch the resource to read it.
	entry, err := c.Stat(ctx, path)
	if err != nil {
		metrics.RecordRemoteOp(remote.OpPublish, time.Since(start), false)
		return "", remote.Call(remote.OpPublish, err)
	}
	if entry.PublicURL == "" {
		metrics.RecordRemoteOp(remote.OpPublish, time.Since(start), false)
		return "", remote.Call(remote.OpPublish, fmt.Errorf("no public url on %s", path))
	}
	metrics.RecordRemoteOp(remote.OpPublish, time.Since(start), true)
	return entry.PublicURL, nil
}

// Delete removes a path permanently, skipping the remote trash.
func (c *Client) Delete(ctx context.Context, path string) error {
	start := time.Now()

	q := url.Values{}
	q.Set("path", diskPath(path))
	q.Set("permanently", "true")

	status, body, err := c.call(ctx, "DELETE", "/resources", q)
	if err == nil && status != http.StatusNoContent && status != http.StatusAccepted {
		err = apiError(status, body)
	}
	if err != nil {
		metrics.RecordRemoteOp(remote.OpDelete, time.Since(start), false)
		return remote.Call(remote.OpDelete, err)
	}
	metrics.RecordRemoteOp(remote.OpDelete, time.Since(start), true)
	return nil
}

// Mkdir creates a folder. An already existing folder counts as success.
func (c *Client) Mkdir(ctx context.Context, path string) error {
	start := time.Now()

	q := url.Values{}
	q.Set("path", diskPath(path))

	status, body, err := c.call(ctx, "PUT", "/resources", q)
	if err == nil && status != http.StatusCreated && status != http.StatusConflict {
		err = apiError(status, body)
	}
	if err != nil {
		metrics.RecordRemoteOp(remote.OpMkdir, time.Since(start), false)
		return remote.Call(remote.OpMkdir, err)
	}
	metrics.RecordRemoteOp(remote.OpMkdir, time.Since(start), true)
	return nil
}

// Usage returns the disk's space accounting.
func (c *Client) Usage(ctx context.Context) (*remote.Usage, error) {
	start := time.Now()

	status, body, err := c.call(ctx, "GET", "", nil)
	if err == nil && status != http.StatusOK {
		err = apiError(status, body)
	}
	var d diskJSON
	if err == nil {
		err = json.Unmarshal(body, &d)
	}
	if err != nil {
		metrics.RecordRemoteOp(remote.OpUsage, time.Since(start), false)
		return nil, remote.Call(remote.OpUsage, err)
	}
	metrics.RecordRemoteOp(remote.OpUsage, time.Since(start), true)

	return &remote.Usage{Total: d.TotalSpace, Used: d.UsedSpace, Trash: d.TrashSize}, nil
}
