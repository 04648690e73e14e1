package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
)

type response struct {
	status   int
	body     []byte
	endpoint string
}

// shouldRetry retries transport errors, 5xx and 429; any other answer is final.
func shouldRetry(resp *response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return true
	}
	return resp.status >= http.StatusInternalServerError || resp.status == http.StatusTooManyRequests
}

// pool issues requests against a list of endpoints with a bounded retry count per
// endpoint, moving along the list according to the failover strategy.
type pool struct {
	endpoints []string
	failover  FailoverConfig
	http      *http.Client
	logger    *logrus.Logger
	onFailure func(endpoint string, err error)

	mu        sync.Mutex
	preferred int
}

func newPool(endpoints []string, failover FailoverConfig, httpClient *http.Client, logger *logrus.Logger, onFailure func(string, error)) *pool {
	cleaned := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if e = strings.TrimRight(strings.TrimSpace(e), "/"); e != "" {
			cleaned = append(cleaned, e)
		}
	}
	return &pool{
		endpoints: cleaned,
		failover:  normalizeFailover(failover),
		http:      httpClient,
		logger:    logger,
		onFailure: onFailure,
	}
}

func (p *pool) order() []string {
	p.mu.Lock()
	start := p.preferred
	p.mu.Unlock()
	out := make([]string, 0, len(p.endpoints))
	for i := range p.endpoints {
		out = append(out, p.endpoints[(start+i)%len(p.endpoints)])
	}
	return out
}

func (p *pool) prefer(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.endpoints {
		if e == endpoint {
			p.preferred = i
			return
		}
	}
}

func (p *pool) do(ctx context.Context, method, path string, body []byte) (*response, error) {
	if len(p.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	var lastErr error
	for _, endpoint := range p.order() {
		resp, err := p.tryEndpoint(ctx, endpoint, method, path, body)
		if err == nil {
			p.prefer(endpoint)
			if resp.status >= 400 {
				return nil, &Error{Status: resp.status, Endpoint: endpoint, Message: errorMessage(resp.body)}
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if p.onFailure != nil {
			p.onFailure(endpoint, err)
		}
		p.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"strategy": p.failover.Strategy.String(),
		}).WithError(err).Warn("chain endpoint failed")
		if p.failover.Strategy == AbortOnError {
			break
		}
	}
	return nil, lastErr
}

// tryEndpoint returns a response for any final answer (including 4xx) and an error only
// when the endpoint exhausted its attempts.
func (p *pool) tryEndpoint(ctx context.Context, endpoint, method, path string, body []byte) (*response, error) {
	attempts := 0
	var lastErr error

	builder := retrypolicy.NewBuilder[*response]().
		HandleIf(shouldRetry).
		WithMaxRetries(p.failover.AttemptsPerEndpoint - 1)
	if p.failover.AttemptInterval > 0 {
		builder = builder.WithDelay(p.failover.AttemptInterval)
	}

	resp, err := failsafe.With[*response](builder.Build()).WithContext(ctx).Get(func() (*response, error) {
		attempts++
		r, err := p.send(ctx, endpoint, method, path, body)
		switch {
		case err != nil:
			lastErr = err
		case shouldRetry(r, nil):
			lastErr = fmt.Errorf("status %d: %s", r.status, errorMessage(r.body))
		}
		return r, err
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err == nil && resp != nil && !shouldRetry(resp, nil) {
		return resp, nil
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, &EndpointError{Endpoint: endpoint, Attempts: attempts, Err: lastErr}
}

func (p *pool) send(ctx context.Context, endpoint, method, path string, body []byte) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &response{status: res.StatusCode, body: data, endpoint: endpoint}, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
