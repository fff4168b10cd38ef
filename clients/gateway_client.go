package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/yashrajoria/storefront-checkout/models"
)

var errUpstream5xx = errors.New("upstream server error")

// GatewayClient calls services behind the API gateway.
// When a breaker is set, transport errors and 5xx responses count as failures
// and an open breaker fails fast with gobreaker.ErrOpenState.
type GatewayClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

func NewGatewayClient(baseURL string, timeout time.Duration, breaker *gobreaker.CircuitBreaker[*http.Response]) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

func (g *GatewayClient) Do(ctx context.Context, method, path string, headers http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if g.breaker == nil {
		return g.client.Do(req)
	}
	resp, err := g.breaker.Execute(func() (*http.Response, error) {
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errUpstream5xx
		}
		return resp, nil
	})
	if errors.Is(err, errUpstream5xx) {
		return resp, nil
	}
	return resp, err
}

// PostJSON sends in as JSON and decodes a 2xx response into out.
func (g *GatewayClient) PostJSON(ctx context.Context, path string, headers http.Header, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := g.Do(ctx, http.MethodPost, path, headers, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return DecodeJSON(resp, out)
}

// DecodeJSON decodes a 2xx body into out. Error statuses become a
// *models.RemoteRejection carrying the upstream reason, when one was sent.
func DecodeJSON(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var payload struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(body, &payload)
		msg := payload.Message
		if msg == "" {
			msg = payload.Error
		}
		if msg == "" && payload.Reason == "" {
			msg = fmt.Sprintf("status=%d body=%s", resp.StatusCode, string(body))
		}
		return &models.RemoteRejection{StatusCode: resp.StatusCode, Reason: payload.Reason, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func userHeaders(userID string) http.Header {
	h := http.Header{}
	if userID != "" {
		h.Set("X-User-ID", userID)
	}
	return h
}
