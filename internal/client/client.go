// Package client talks to a logcast server, either by long-polling or over
// the websocket stream.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"logcast/internal/protocol"
)

var (
	ErrNotSubscribed = errors.New(protocol.MessageNotSubscribed)
	ErrRejected      = errors.New("request rejected")
)

type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New returns a client for the server at rawURL. token may be empty.
func New(rawURL, token string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url: unsupported scheme %q", u.Scheme)
	}
	return &Client{base: u, token: token, http: http.DefaultClient}, nil
}

// Subscribe registers a new client with simulator, or the server's default
// when simulator is empty.
func (c *Client) Subscribe(ctx context.Context, simulator string) (*protocol.Subscribe, error) {
	q := url.Values{}
	if simulator != "" {
		q.Set("simulator", simulator)
	}
	var sub protocol.Subscribe
	if err := c.get(ctx, "/subscribe", q, &sub, &sub.Status); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *Client) ChangeSimulator(ctx context.Context, id int64, simulator string) (*protocol.ChangeSimulator, error) {
	q := url.Values{"clientId": {strconv.FormatInt(id, 10)}, "simulator": {simulator}}
	var change protocol.ChangeSimulator
	if err := c.get(ctx, "/changeSimulator", q, &change, &change.Status); err != nil {
		return nil, err
	}
	return &change, nil
}

// Update blocks until the next update for id arrives or ctx is done.
func (c *Client) Update(ctx context.Context, id int64) (*protocol.Update, error) {
	var upd protocol.Update
	if err := c.get(ctx, "/update", clientQuery(id), &upd, &upd.Status); err != nil {
		return nil, err
	}
	return &upd, nil
}

func (c *Client) Backlog(ctx context.Context, id int64) (int64, error) {
	var b protocol.Backlog
	if err := c.get(ctx, "/backlog", clientQuery(id), &b, &b.Status); err != nil {
		return 0, err
	}
	return b.Backlog, nil
}

func (c *Client) Unsubscribe(ctx context.Context, id int64) error {
	var status protocol.Status
	return c.get(ctx, "/unsubscribe", clientQuery(id), &status, &status)
}

// Stream opens the websocket stream for simulator and calls fn with every
// update until ctx is done, fn fails or the server ends the stream.
func (c *Client) Stream(ctx context.Context, simulator string, onSubscribe func(*protocol.Subscribe), fn func(*protocol.Update) error) error {
	u := *c.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/stream"
	q := url.Values{}
	if simulator != "" {
		q.Set("simulator", simulator)
	}
	if c.token != "" {
		q.Set("token", c.token)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: %s", ErrRejected, resp.Status)
		}
		return fmt.Errorf("dial error: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	var sub protocol.Subscribe
	if err := conn.ReadJSON(&sub); err != nil {
		return streamError(ctx, err)
	}
	if !sub.Successful {
		return fmt.Errorf("%w: %s", ErrRejected, sub.Message)
	}
	if onSubscribe != nil {
		onSubscribe(&sub)
	}

	for {
		var upd protocol.Update
		if err := conn.ReadJSON(&upd); err != nil {
			return streamError(ctx, err)
		}
		if !upd.Successful {
			return statusError(upd.Status)
		}
		if err := fn(&upd); err != nil {
			return err
		}
	}
}

func streamError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return ErrNotSubscribed
	}
	return fmt.Errorf("read error: %w", err)
}

func clientQuery(id int64) url.Values {
	return url.Values{"clientId": {strconv.FormatInt(id, 10)}}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any, status *protocol.Status) error {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return fmt.Errorf("%w: %s", ErrRejected, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding %s: %w", path, err)
	}
	if !status.Successful {
		return statusError(*status)
	}
	return nil
}

func statusError(status protocol.Status) error {
	if status.Message == protocol.MessageNotSubscribed {
		return ErrNotSubscribed
	}
	return fmt.Errorf("%w: %s", ErrRejected, status.Message)
}
