package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Iskam31/YADISKTGBOT/internal/transfer"
)

// Transport downloads attachment bytes from the Telegram file API. The
// upload pipeline uses it as its transfer.Fetcher.
type Transport struct {
	api    *tgbotapi.BotAPI
	client *http.Client
}

var _ transfer.Fetcher = (*Transport)(nil)

// NewTransport wraps the bot API for blob downloads. A nil client means
// http.DefaultClient.
func NewTransport(api *tgbotapi.BotAPI, client *http.Client) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &Transport{api: api, client: client}
}

func (t *Transport) Fetch(ctx context.Context, fileID string, dst io.Writer) error {
	url, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("download blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download blob: unexpected status %s", resp.Status)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("download blob: %w", err)
	}
	return nil
}
