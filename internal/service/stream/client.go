package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"PerpGate/internal/domain/models"
	"PerpGate/internal/domain/repository"
	xhttp "PerpGate/pkg/http"
	applogger "PerpGate/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Config struct {
	// WebSocketURL skips the token handshake when set.
	WebSocketURL   string               `yaml:"websocket_url"`
	RESTURL        string               `yaml:"rest_url" default:"https://api-futures.kucoin.com"`
	Timeframe      repository.Timeframe `yaml:"timeframe" default:"1m"`
	ReconnectDelay time.Duration        `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration        `yaml:"ping_interval" default:"18s"`
	Buffer         int                  `yaml:"buffer" default:"1024"`
}

// Client implements a MarketStream of kline updates over the venue websocket.
type Client struct {
	cfg     Config
	symbols []string
	rest    *xhttp.Client
	l       *applogger.Logger

	writeMu   sync.Mutex
	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
}

func New(cfg Config, symbols []string, l *applogger.Logger) *Client {
	if l == nil {
		l = applogger.Nop()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &Client{
		cfg:     cfg,
		symbols: symbols,
		rest:    xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		l:       l.With(applogger.String("component", "stream")),
	}
}

type bulletResponse struct {
	Code string `json:"code"`
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"`
		} `json:"instanceServers"`
	} `json:"data"`
}

// endpoint resolves the websocket URL, fetching a public token when none is configured.
func (c *Client) endpoint(ctx context.Context) (string, error) {
	if c.cfg.WebSocketURL != "" {
		return c.cfg.WebSocketURL, nil
	}
	var br bulletResponse
	err := c.rest.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    strings.TrimRight(c.cfg.RESTURL, "/") + "/api/v1/bullet-public",
	}, &br)
	if err != nil {
		return "", fmt.Errorf("stream token: %w", err)
	}
	if br.Data.Token == "" || len(br.Data.InstanceServers) == 0 {
		return "", fmt.Errorf("stream token: empty response code %s", br.Code)
	}
	q := url.Values{"token": {br.Data.Token}, "connectId": {uuid.NewString()}}
	return br.Data.InstanceServers[0].Endpoint + "?" + q.Encode(), nil
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := c.endpoint(ctx)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.l.Info("stream connected", applogger.Int("symbols", len(c.symbols)))
	return nil
}

func (c *Client) write(v interface{}) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("stream not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Subscribe subscribes to the kline topic of every configured symbol.
func (c *Client) Subscribe(ctx context.Context) error {
	if !c.IsConnected() {
		return fmt.Errorf("stream not connected")
	}
	for _, s := range c.symbols {
		msg := map[string]interface{}{
			"id":       uuid.NewString(),
			"type":     "subscribe",
			"topic":    topic(s, c.cfg.Timeframe),
			"response": true,
		}
		if err := c.write(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		c.l.Debug("stream subscribed", applogger.String("symbol", s))
	}
	return nil
}

// Read streams candle updates. A closed candle is emitted with Closed set
// when the next bucket's first update arrives.
func (c *Client) Read(ctx context.Context) (<-chan models.Candle, <-chan error) {
	candles := make(chan models.Candle, c.cfg.Buffer)
	errs := make(chan error, 1)

	if c.cfg.PingInterval > 0 {
		go func() {
			ticker := time.NewTicker(c.cfg.PingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if !c.IsConnected() {
						return
					}
					_ = c.write(wsMessage{ID: uuid.NewString(), Type: "ping"})
				}
			}
		}()
	}

	go func() {
		defer close(candles)
		defer close(errs)
		asm := newAssembler()
		for {
			if ctx.Err() != nil {
				return
			}
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				errs <- fmt.Errorf("stream conn nil")
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("stream read: %w", err)
				return
			}
			var m wsMessage
			if err := json.Unmarshal(b, &m); err != nil || m.Type != "message" || m.Data == nil {
				continue
			}
			cd, err := parseKline(m.Data)
			if err != nil {
				c.l.Debug("stream frame skipped", applogger.Error(err))
				continue
			}
			for _, out := range asm.push(cd) {
				select {
				case candles <- out:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return candles, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.cfg.ReconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

var _ repository.MarketStream = (*Client)(nil)
