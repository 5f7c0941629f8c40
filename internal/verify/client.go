// Package verify submits contract sources to Etherscan-compatible explorers.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nafkem/LansRealEstate/internal/config"
)

var (
	// ErrMissingAPIKey is returned when no explorer API key is configured.
	ErrMissingAPIKey = errors.New("verify: API_KEY is not set")
	// ErrVerificationFailed is returned when the explorer rejects the source.
	ErrVerificationFailed = errors.New("verify: verification failed")
	// ErrTimeout is returned when the explorer never reports a final status.
	ErrTimeout = errors.New("verify: timed out waiting for verification result")
)

// APIError is a non-success response from the explorer API.
type APIError struct {
	Action  string
	Status  int
	Message string
	Result  string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("verify: %s: HTTP %d: %s", e.Action, e.Status, e.Result)
	}
	return fmt.Sprintf("verify: %s: %s: %s", e.Action, e.Message, e.Result)
}

// Status is the state of a verification request.
type Status string

const (
	StatusPending         Status = "pending"
	StatusVerified        Status = "verified"
	StatusAlreadyVerified Status = "already_verified"
	StatusFailed          Status = "failed"
)

// Request is a standard-JSON verification submission.
type Request struct {
	Address common.Address
	// ContractName is the fully qualified name, "contracts/X.sol:X".
	ContractName string
	// CompilerVersion is the long solc version, "v0.8.24+commit.e11b9ed9".
	CompilerVersion string
	// Input is the solc standard-JSON input.
	Input json.RawMessage
	// ConstructorArgs is the ABI-encoded constructor arguments in hex.
	ConstructorArgs string
}

// Outcome is the final result of Verify.
type Outcome struct {
	Status Status
	GUID   string
	URL    string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPolling sets how often and how long to poll for a result.
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.pollTimeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to one explorer API.
type Client struct {
	apiURL       string
	browserURL   string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *slog.Logger
}

// NewClient creates a client for the explorer configured for a chain.
func NewClient(chain config.CustomChain, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if chain.URLs.APIURL == "" {
		return nil, fmt.Errorf("verify: no explorer API URL for network %q", chain.Network)
	}

	c := &Client{
		apiURL:       chain.URLs.APIURL,
		browserURL:   strings.TrimSuffix(chain.URLs.BrowserURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: 5 * time.Second,
		pollTimeout:  3 * time.Minute,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AddressURL returns the explorer page for an address.
func (c *Client) AddressURL(addr common.Address) string {
	return c.browserURL + "/address/" + addr.Hex() + "#code"
}

// apiResponse is the envelope of every explorer response.
type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (r *apiResponse) resultString() string {
	var s string
	if err := json.Unmarshal(r.Result, &s); err == nil {
		return s
	}
	return string(r.Result)
}

// IsVerified reports whether the explorer already has source for addr.
func (c *Client) IsVerified(ctx context.Context, addr common.Address) (bool, error) {
	q := url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {addr.Hex()},
	}
	resp, err := c.do(ctx, http.MethodGet, "getsourcecode", q)
	if err != nil {
		return false, err
	}
	if resp.Status != "1" {
		return false, &APIError{Action: "getsourcecode", Message: resp.Message, Result: resp.resultString()}
	}

	var entries []struct {
		SourceCode string `json:"SourceCode"`
	}
	if err := json.Unmarshal(resp.Result, &entries); err != nil {
		return false, fmt.Errorf("verify: decode getsourcecode result: %w", err)
	}
	return len(entries) > 0 && entries[0].SourceCode != "", nil
}

// Submit sends a verification request and returns the explorer's GUID.
// It returns StatusAlreadyVerified with an empty GUID when the explorer
// already has the source.
func (c *Client) Submit(ctx context.Context, req *Request) (string, Status, error) {
	form := url.Values{
		"module":                {"contract"},
		"action":                {"verifysourcecode"},
		"contractaddress":       {req.Address.Hex()},
		"sourceCode":            {string(req.Input)},
		"codeformat":            {"solidity-standard-json-input"},
		"contractname":          {req.ContractName},
		"compilerversion":       {req.CompilerVersion},
		"constructorArguements": {strings.TrimPrefix(req.ConstructorArgs, "0x")},
	}
	resp, err := c.do(ctx, http.MethodPost, "verifysourcecode", form)
	if err != nil {
		return "", "", err
	}

	result := resp.resultString()
	if resp.Status == "1" {
		return result, StatusPending, nil
	}
	if isAlreadyVerified(result) {
		return "", StatusAlreadyVerified, nil
	}
	return "", "", &APIError{Action: "verifysourcecode", Message: resp.Message, Result: result}
}

// CheckStatus returns the state of a submitted verification.
func (c *Client) CheckStatus(ctx context.Context, guid string) (Status, string, error) {
	q := url.Values{
		"module": {"contract"},
		"action": {"checkverifystatus"},
		"guid":   {guid},
	}
	resp, err := c.do(ctx, http.MethodGet, "checkverifystatus", q)
	if err != nil {
		return "", "", err
	}

	result := resp.resultString()
	lower := strings.ToLower(result)
	switch {
	case isAlreadyVerified(result):
		return StatusAlreadyVerified, result, nil
	case strings.HasPrefix(lower, "pass"):
		return StatusVerified, result, nil
	case strings.Contains(lower, "pending"), strings.Contains(lower, "in queue"), strings.Contains(lower, "rate limit"):
		return StatusPending, result, nil
	case strings.HasPrefix(lower, "fail"):
		return StatusFailed, result, nil
	}
	if resp.Status == "1" {
		return StatusPending, result, nil
	}
	return "", "", &APIError{Action: "checkverifystatus", Message: resp.Message, Result: result}
}

// Verify submits req and polls until the explorer reports a final status.
func (c *Client) Verify(ctx context.Context, req *Request) (*Outcome, error) {
	guid, status, err := c.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Status: status, GUID: guid, URL: c.AddressURL(req.Address)}
	if status == StatusAlreadyVerified {
		return out, nil
	}

	c.logger.Info("verification submitted",
		slog.String("contract", req.ContractName),
		slog.String("address", req.Address.Hex()),
		slog.String("guid", guid),
	)

	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: guid %s", ErrTimeout, guid)
		case <-ticker.C:
		}

		status, detail, err := c.CheckStatus(pollCtx, guid)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if pollCtx.Err() != nil {
				return nil, fmt.Errorf("%w: guid %s", ErrTimeout, guid)
			}
			if !isTransient(err) {
				return nil, err
			}
			c.logger.Warn("verification status check failed, retrying",
				slog.String("guid", guid),
				slog.String("error", err.Error()),
			)
			continue
		}
		switch status {
		case StatusVerified, StatusAlreadyVerified:
			out.Status = status
			return out, nil
		case StatusFailed:
			return nil, fmt.Errorf("%w: %s: %s", ErrVerificationFailed, req.ContractName, detail)
		}
		c.logger.Debug("verification pending", slog.String("guid", guid), slog.String("result", detail))
	}
}

// isTransient reports whether err is a network failure or a server-side
// HTTP status worth polling through.
func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func isAlreadyVerified(result string) bool {
	return strings.Contains(strings.ToLower(result), "already verified")
}

// do sends a GET with query parameters or a POST with a form body.
func (c *Client) do(ctx context.Context, method, action string, params url.Values) (*apiResponse, error) {
	params.Set("apikey", c.apiKey)

	var (
		httpReq *http.Request
		err     error
	)
	if method == http.MethodGet {
		u, perr := url.Parse(c.apiURL)
		if perr != nil {
			return nil, fmt.Errorf("verify: parse API URL: %w", perr)
		}
		q := u.Query()
		for k, v := range params {
			q[k] = v
		}
		u.RawQuery = q.Encode()
		httpReq, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, c.apiURL, strings.NewReader(params.Encode()))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("verify: create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("verify: %s: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("verify: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Action: action, Status: resp.StatusCode, Result: string(body)}
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("verify: decode %s response: %w", action, err)
	}
	return &out, nil
}
