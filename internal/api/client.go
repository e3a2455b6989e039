package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/VenkatGGG/gpu-reserve/pkg/httpx"
)

// FetchStatus reads the latest status from a running scheduler's status API.
func FetchStatus(ctx context.Context, client *http.Client, baseURL string) (StatusView, error) {
	var view StatusView
	err := httpx.GetJSON(ctx, client, strings.TrimRight(baseURL, "/")+"/v1/reservations", &view)
	return view, err
}

// WatchStatus streams statuses to fn until ctx ends, the server closes the
// stream, or fn returns an error.
func WatchStatus(ctx context.Context, baseURL string, fn func(StatusView) error) error {
	url, err := watchURL(baseURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial status stream: %w", err)
	}
	defer conn.CloseNow()

	for {
		var view StatusView
		if err := wsjson.Read(ctx, conn, &view); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("read status stream: %w", err)
		}
		if err := fn(view); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}

func watchURL(baseURL string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
	default:
		return "", fmt.Errorf("unsupported status url %q", baseURL)
	}
	return base + "/v1/watch", nil
}
