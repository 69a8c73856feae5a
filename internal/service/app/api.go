package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"micropay/internal/model"
	"micropay/internal/protocol/payer"
	"micropay/internal/utils/log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// HttpTransport talks to a payee over its HTTP endpoint.
type HttpTransport struct {
	base   url.URL
	client *http.Client
}

var _ payer.Transport = (*HttpTransport)(nil)

func NewHttpTransport(endpoint string, client *http.Client) (*HttpTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parse payee url %q", endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("payee url %q: unsupported scheme", endpoint)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HttpTransport{base: *u, client: client}, nil
}

func (c *HttpTransport) Endpoint() string {
	return c.base.String()
}

func (c *HttpTransport) url(path string) string {
	u := c.base
	u.Path = path
	return u.String()
}

func (c *HttpTransport) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(payer.ErrTransport, err.Error())
	}
	return resp, nil
}

func decode(resp *http.Response, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrapf(payer.ErrProtocol, "decode %d response: %v", resp.StatusCode, err)
	}
	return nil
}

func unexpected(resp *http.Response) error {
	var body model.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return errors.Wrapf(payer.ErrProtocol, "status %d: %s", resp.StatusCode, body.Error)
	}
	return errors.Wrapf(payer.ErrProtocol, "status %d", resp.StatusCode)
}

func (c *HttpTransport) Hello(ctx context.Context, req model.HelloRequest) (*model.HelloResponse, error) {
	resp, err := c.post(ctx, "/hello", &req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, unexpected(resp)
	}

	var hello model.HelloResponse
	if err := decode(resp, &hello); err != nil {
		return nil, err
	}
	return &hello, nil
}

// SendProof returns the payee's answer for both accepted and rejected
// proofs. Other statuses are protocol errors.
func (c *HttpTransport) SendProof(ctx context.Context, req model.ProofRequest) (*model.ProofResponse, error) {
	resp, err := c.post(ctx, "/proof", &req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return nil, unexpected(resp)
	}

	var proof model.ProofResponse
	if err := decode(resp, &proof); err != nil {
		return nil, err
	}
	return &proof, nil
}

// SubscribeEvents follows the payee event stream of one channel. The stream
// is closed when ctx is done or the connection drops.
func (c *HttpTransport) SubscribeEvents(ctx context.Context, id model.ChannelID) (<-chan model.Event, error) {
	u := c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = "/events"
	u.RawQuery = url.Values{"channel": []string{id.Hex()}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(payer.ErrTransport, fmt.Sprintf("dial events: %v", err))
	}

	events := make(chan model.Event)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Debug("events web socket closed", zap.Error(err))
				return
			}

			var ev model.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Error("unmarshal event failed", zap.Error(err))
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
