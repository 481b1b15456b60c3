package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ClientConfig holds the configuration for the explorer client.
type ClientConfig struct {
	// URL is the base URL of the Esplora-style API, without trailing slash.
	URL string

	// RequestTimeout bounds each HTTP attempt.
	RequestTimeout time.Duration

	// MaxRetries is the number of extra attempts for transient failures.
	MaxRetries int

	// Backoff is the linear retry step; zero means 100ms.
	Backoff time.Duration
}

// txInfo mirrors the explorer's /tx/{txid} response.
type txInfo struct {
	TxID   string   `json:"txid"`
	Vout   []txVout `json:"vout"`
	Status txStatus `json:"status"`
}

type txVout struct {
	ScriptPubKey     string `json:"scriptpubkey"`
	ScriptPubKeyAddr string `json:"scriptpubkey_address,omitempty"`
	Value            int64  `json:"value"`
}

type txStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height,omitempty"`
}

type outSpend struct {
	Spent bool `json:"spent"`
}

// errNotFound marks a 404 before the caller gives it a meaning.
var errNotFound = errors.New("not found")

// Client is an HTTP client for an Esplora-style REST API.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

var _ Source = (*Client)(nil)

// NewClient creates a client with the given configuration.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// GetTransaction fetches a transaction and its confirmation depth.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*Tx, error) {
	ctx, span := otel.Tracer("chain/Client").Start(ctx, "GetTransaction",
		trace.WithAttributes(attribute.String("tx.id", txid)))
	defer span.End()

	body, err := c.doGet(ctx, "/tx/"+txid)
	if errors.Is(err, errNotFound) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, err
	}

	var info txInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode tx %s: %w", txid, err)
	}

	tx := &Tx{
		TxID:        info.TxID,
		Confirmed:   info.Status.Confirmed,
		BlockHeight: info.Status.BlockHeight,
		Outputs:     make([]Output, len(info.Vout)),
	}
	for i, v := range info.Vout {
		tx.Outputs[i] = Output{
			Index:     i,
			Value:     v.Value,
			ScriptHex: v.ScriptPubKey,
			Address:   v.ScriptPubKeyAddr,
		}
	}

	if tx.Confirmed && tx.BlockHeight > 0 {
		tip, err := c.GetTipHeight(ctx)
		if err != nil {
			return nil, err
		}
		if tip >= tx.BlockHeight {
			tx.Confirmations = tip - tx.BlockHeight + 1
		}
	}
	return tx, nil
}

// GetTipHeight returns the current blockchain tip height.
func (c *Client) GetTipHeight(ctx context.Context) (int64, error) {
	body, err := c.doGet(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse tip height: %w", err)
	}
	return height, nil
}

// IsOutputSpent checks if a specific output is spent.
func (c *Client) IsOutputSpent(ctx context.Context, txid string, index int) (bool, error) {
	body, err := c.doGet(ctx, fmt.Sprintf("/tx/%s/outspend/%d", txid, index))
	if errors.Is(err, errNotFound) {
		return false, ErrTxNotFound
	}
	if err != nil {
		return false, err
	}
	var st outSpend
	if err := json.Unmarshal(body, &st); err != nil {
		return false, fmt.Errorf("decode outspend: %w", err)
	}
	return st.Spent, nil
}

// doGet performs a GET with bounded retries for transient failures and
// returns the body of a 200 response.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	url := c.cfg.URL + path

	var lastErr error
	for i := 0; i <= c.cfg.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
			case <-time.After(time.Duration(i) * c.cfg.Backoff):
			}
		}

		body, retry, err := c.attempt(ctx, url)
		if err == nil {
			return body, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
		log.Debug().Str("component", "chain").Str("path", path).Int("attempt", i+1).Err(err).Msg("chain request failed")
	}
	return nil, fmt.Errorf("%w: request failed after %d attempts: %v", ErrTransient, c.cfg.MaxRetries+1, lastErr)
}

// attempt performs one request. retry reports whether the failure is
// transient.
func (c *Client) attempt(ctx context.Context, url string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts, resets and refused connections are all worth another try
		// unless the caller itself gave up.
		return nil, ctx.Err() == nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, errNotFound
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(string(body)), "invalid"):
		// Explorers answer malformed or unknown ids with 400.
		return nil, false, errNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("API returned status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
}
