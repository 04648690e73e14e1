package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/domain"
)

const (
	directoryQuery = "cm_get_blockchain_api_urls"

	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
	StatusWaiting   = "waiting"
	StatusUnknown   = "unknown"
)

// Receipt is the final outcome of a posted transaction.
type Receipt struct {
	TxRID  domain.HexBytes `json:"txRid"`
	Status string          `json:"status"`
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithStatusPollInterval(d time.Duration) Option {
	return func(cl *Client) { cl.pollInterval = d }
}

// WithMaxStatusPolls bounds how long SendTransaction waits for a final status.
func WithMaxStatusPolls(n int) Option {
	return func(cl *Client) { cl.maxPolls = n }
}

// WithFailureHook is called every time an endpoint exhausts its attempts.
func WithFailureHook(fn func(endpoint string, err error)) Option {
	return func(cl *Client) { cl.onFailure = fn }
}

// Client talks to one blockchain through a pool of nodes.
type Client struct {
	rid          domain.HexBytes
	pool         *pool
	logger       *logrus.Logger
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
	onFailure    func(string, error)
}

// NewClient resolves the node pool and the blockchain RID described by settings.
func NewClient(ctx context.Context, settings Settings, logger *logrus.Logger, opts ...Option) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		logger:       logger,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: time.Second,
		maxPolls:     120,
	}
	for _, opt := range opts {
		opt(c)
	}

	if len(settings.DirectoryNodeURLPool) > 0 {
		if err := c.resolveFromDirectory(ctx, settings); err != nil {
			return nil, err
		}
	} else {
		c.pool = newPool(settings.NodeURLPool, settings.Failover, c.httpClient, logger, c.onFailure)
		rid, err := c.resolveRID(ctx, c.pool, settings)
		if err != nil {
			return nil, err
		}
		c.rid = rid
	}

	logger.WithFields(logrus.Fields{
		"blockchain_rid": c.rid.String(),
		"endpoints":      len(c.pool.endpoints),
	}).Debug("Chain client ready")
	return c, nil
}

func (c *Client) resolveFromDirectory(ctx context.Context, settings Settings) error {
	directory := newPool(settings.DirectoryNodeURLPool, settings.Failover, c.httpClient, c.logger, c.onFailure)

	directoryRID, err := c.ridByIID(ctx, directory, 0)
	if err != nil {
		return fmt.Errorf("resolve directory chain: %w", err)
	}
	rid, err := c.resolveRID(ctx, directory, settings)
	if err != nil {
		return err
	}

	body, err := queryBody(directoryQuery, map[string]any{"blockchain_rid": rid.String()})
	if err != nil {
		return err
	}
	resp, err := directory.do(ctx, http.MethodPost, "/query/"+directoryRID.String(), body)
	if err != nil {
		return fmt.Errorf("resolve node urls: %w", err)
	}
	var urls []string
	if err := json.Unmarshal(resp.body, &urls); err != nil {
		return fmt.Errorf("resolve node urls: %w", err)
	}
	if len(urls) == 0 {
		return ErrNoEndpointURL
	}

	c.rid = rid
	c.pool = newPool(urls, settings.Failover, c.httpClient, c.logger, c.onFailure)
	return nil
}

func (c *Client) resolveRID(ctx context.Context, p *pool, settings Settings) (domain.HexBytes, error) {
	if settings.BlockchainRID != "" {
		rid, err := domain.ParseHex(settings.BlockchainRID)
		if err != nil || len(rid) != 32 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRID, settings.BlockchainRID)
		}
		return rid, nil
	}
	return c.ridByIID(ctx, p, *settings.BlockchainIID)
}

func (c *Client) ridByIID(ctx context.Context, p *pool, iid int) (domain.HexBytes, error) {
	resp, err := p.do(ctx, http.MethodGet, "/brid/iid_"+strconv.Itoa(iid), nil)
	if err != nil {
		return nil, err
	}
	rid, err := domain.ParseHex(strings.TrimSpace(strings.Trim(string(resp.body), `"`)))
	if err != nil || len(rid) != 32 {
		return nil, fmt.Errorf("%w for chain id %d", ErrInvalidRID, iid)
	}
	return rid, nil
}

// BlockchainRID returns the resolved RID of the chain.
func (c *Client) BlockchainRID() domain.HexBytes { return c.rid }

func (c *Client) Endpoints() []string {
	return append([]string(nil), c.pool.endpoints...)
}

// Query runs a read-only query and decodes the result into out (which may be nil).
func (c *Client) Query(ctx context.Context, name string, args map[string]any, out any) error {
	body, err := queryBody(name, args)
	if err != nil {
		return err
	}
	resp, err := c.pool.do(ctx, http.MethodPost, "/query/"+c.rid.String(), body)
	if err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("query %s: decode result: %w", name, err)
	}
	return nil
}

// SendTransaction posts tx and waits until the node reports it confirmed or rejected.
func (c *Client) SendTransaction(ctx context.Context, tx *SignedTransaction) (Receipt, error) {
	rid, err := tx.Transaction.RID()
	if err != nil {
		return Receipt{}, err
	}
	payload, err := tx.Encode()
	if err != nil {
		return Receipt{}, err
	}
	body, err := json.Marshal(map[string]string{"tx": payload})
	if err != nil {
		return Receipt{}, err
	}

	if _, err := c.pool.do(ctx, http.MethodPost, "/tx/"+c.rid.String(), body); err != nil {
		var nodeErr *Error
		if errors.As(err, &nodeErr) {
			return Receipt{TxRID: rid, Status: StatusRejected}, fmt.Errorf("%w: %w", ErrTxRejected, err)
		}
		return Receipt{}, fmt.Errorf("post transaction: %w", err)
	}

	return c.awaitStatus(ctx, rid)
}

func (c *Client) awaitStatus(ctx context.Context, rid domain.HexBytes) (Receipt, error) {
	path := "/tx/" + c.rid.String() + "/" + rid.String() + "/status"
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	last := StatusUnknown
	for i := 0; i < c.maxPolls; i++ {
		resp, err := c.pool.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return Receipt{}, fmt.Errorf("transaction status: %w", err)
		}
		var status struct {
			Status       string `json:"status"`
			RejectReason string `json:"rejectReason"`
		}
		if err := json.Unmarshal(resp.body, &status); err != nil {
			return Receipt{}, fmt.Errorf("transaction status: %w", err)
		}
		last = status.Status
		switch status.Status {
		case StatusConfirmed:
			return Receipt{TxRID: rid, Status: StatusConfirmed}, nil
		case StatusRejected:
			return Receipt{TxRID: rid, Status: StatusRejected}, fmt.Errorf("%w: %s", ErrTxRejected, status.RejectReason)
		}

		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
	if last == StatusUnknown {
		return Receipt{TxRID: rid, Status: last}, ErrUnknownTx
	}
	return Receipt{TxRID: rid, Status: last}, fmt.Errorf("transaction %s still %s", rid, last)
}

func queryBody(name string, args map[string]any) ([]byte, error) {
	payload := make(map[string]any, len(args)+1)
	for k, v := range args {
		payload[k] = v
	}
	payload["type"] = name
	return json.Marshal(payload)
}
