package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/arcflow/agentcore/internal/agent"
)

// BrowserStateResponse is the JSON the sandbox image's automation API
// returns (fetched by the browser tool with curl inside the container).
// message is the only required field.
type BrowserStateResponse struct {
	Message          string `json:"message"`
	URL              string `json:"url,omitempty"`
	Title            string `json:"title,omitempty"`
	ElementCount     int    `json:"element_count,omitempty"`
	PixelsBelow      int    `json:"pixels_below,omitempty"`
	OCRText          string `json:"ocr_text,omitempty"`
	ScreenshotBase64 string `json:"screenshot_base64,omitempty"`
	ScreenshotURL    string `json:"screenshot_url,omitempty"`
}

// ScreenshotStore uploads a normalized screenshot and returns its URL.
// *Uploader implements it; tests use a fake.
type ScreenshotStore interface {
	UploadScreenshot(ctx context.Context, threadID string, shot *ScreenshotResult) (string, error)
}

// BrowserStateIngestor turns raw automation-API responses into persisted
// browser_state messages. When a store is configured and the response
// carries an inline screenshot, the screenshot is normalized, uploaded,
// and replaced by its URL before persistence; without a store the inline
// payload is kept as is.
type BrowserStateIngestor struct {
	store       agent.ThreadStore
	screenshots ScreenshotStore
}

// NewBrowserStateIngestor constructs an ingestor. screenshots may be nil.
func NewBrowserStateIngestor(store agent.ThreadStore, screenshots ScreenshotStore) *BrowserStateIngestor {
	return &BrowserStateIngestor{store: store, screenshots: screenshots}
}

// Ingest decodes raw response bytes, uploads any inline screenshot, and
// appends a browser_state message to the thread. The transport hands us
// bytes; invalid UTF-8 is replaced rather than rejected.
func (b *BrowserStateIngestor) Ingest(ctx context.Context, threadID string, raw []byte) (string, error) {
	decoded := DecodeUTF8(raw)

	var state BrowserStateResponse
	if err := json.Unmarshal([]byte(decoded), &state); err != nil {
		return "", fmt.Errorf("decode browser state: %w", err)
	}
	if strings.TrimSpace(state.Message) == "" {
		return "", fmt.Errorf("browser state response missing message")
	}

	if b.screenshots != nil && state.ScreenshotURL == "" && state.ScreenshotBase64 != "" {
		url, err := b.uploadInline(ctx, threadID, state.ScreenshotBase64)
		if err == nil {
			state.ScreenshotURL = url
			state.ScreenshotBase64 = ""
		}
		// Upload failure keeps the inline payload; the browser tool's
		// result is still usable, just heavier.
	}

	content, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode browser state: %w", err)
	}
	id, err := b.store.AddMessage(ctx, threadID, agent.MessageKindBrowserState, content, false)
	if err != nil {
		return "", fmt.Errorf("persist browser state: %w", err)
	}
	return id, nil
}

func (b *BrowserStateIngestor) uploadInline(ctx context.Context, threadID, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}
	shot, err := NormalizeScreenshot(data, nil)
	if err != nil {
		return "", err
	}
	return b.screenshots.UploadScreenshot(ctx, threadID, shot)
}

// DecodeUTF8 replaces invalid UTF-8 sequences with the replacement rune.
func DecodeUTF8(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}
