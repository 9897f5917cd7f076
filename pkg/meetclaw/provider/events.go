package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultEventsURL = "wss://video.stream-io-api.com/video/connect"

// EventsConfig configures the websocket event subscription.
type EventsConfig struct {
	URL       string
	APIKey    string
	APISecret string
	CallType  string

	// UserID is the identity the watcher connects as.
	UserID string
}

// Events subscribes to call updates over the provider's websocket and
// forwards custom-data snapshots for one call.
type Events struct {
	cfg    EventsConfig
	dialer *websocket.Dialer
	logger *slog.Logger
	now    func() time.Time
}

// NewEvents creates a websocket subscriber.
func NewEvents(cfg EventsConfig, logger *slog.Logger) *Events {
	if cfg.URL == "" {
		cfg.URL = defaultEventsURL
	}
	if cfg.CallType == "" {
		cfg.CallType = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Events{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger.With("component", "provider-events"),
		now:    time.Now,
	}
}

type wsAuth struct {
	Token       string `json:"token"`
	UserDetails struct {
		ID string `json:"id"`
	} `json:"user_details"`
}

type wsEvent struct {
	Type    string `json:"type"`
	CallCID string `json:"call_cid"`
	Call    *struct {
		CID    string         `json:"cid"`
		Custom map[string]any `json:"custom"`
	} `json:"call"`
}

// SubscribeCustom connects, authenticates and streams the custom data of
// callID from every call.updated or call.created event. The channel closes
// when ctx ends or the connection drops.
func (e *Events) SubscribeCustom(ctx context.Context, callID string) (<-chan map[string]any, error) {
	token, _, err := UserToken(e.cfg.APISecret, e.cfg.UserID, time.Hour, e.now())
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(e.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("events: parse url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", e.cfg.APIKey)
	q.Set("stream-auth-type", "jwt")
	u.RawQuery = q.Encode()

	conn, _, err := e.dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		return nil, fmt.Errorf("events dial: %w", err)
	}

	auth := wsAuth{Token: token}
	auth.UserDetails.ID = e.cfg.UserID
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events auth write: %w", err)
	}

	cid := CID(e.cfg.CallType, callID)
	out := make(chan map[string]any, 8)

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { conn.Close() }) }

	go func() {
		<-ctx.Done()
		closeConn()
	}()

	go func() {
		defer close(out)
		defer closeConn()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					e.logger.Warn("events read error", "call_cid", cid, "error", err)
				}
				return
			}

			var ev wsEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				e.logger.Debug("events: unparseable message", "error", err)
				continue
			}
			if !strings.HasPrefix(ev.Type, "call.") || ev.Call == nil {
				continue
			}
			if ev.Call.CID != cid && ev.CallCID != cid {
				continue
			}

			select {
			case out <- cloneMap(ev.Call.Custom):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
