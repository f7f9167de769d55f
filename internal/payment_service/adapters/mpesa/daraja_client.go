package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/stkpay/golang_services/internal/payment_service/domain"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	DefaultTransactionType = "CustomerPayBillOnline"

	tokenPath     = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath   = "/mpesa/stkpush/v1/processrequest"
	timestampForm = "20060102150405"
	// tokens are refreshed this long before the gateway says they expire
	tokenExpirySkew = time.Minute
)

// BaseURLFor maps an environment name to the Daraja base URL.
func BaseURLFor(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "sandbox":
		return SandboxBaseURL, nil
	case "production":
		return ProductionBaseURL, nil
	default:
		return "", fmt.Errorf("unknown mpesa environment %q", env)
	}
}

type Config struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string
	PassKey          string
	CallbackURL      string
	TransactionType  string
	AccountReference string
}

// DarajaClient talks to the Daraja STK push API.
type DarajaClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewDarajaClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*DarajaClient, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, errors.New("mpesa consumer key and secret are required")
	}
	if cfg.ShortCode == "" || cfg.PassKey == "" {
		return nil, errors.New("mpesa shortcode and passkey are required")
	}
	if cfg.CallbackURL == "" {
		return nil, errors.New("mpesa callback url is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TransactionType == "" {
		cfg.TransactionType = DefaultTransactionType
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &DarajaClient{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With("adapter", "mpesa_daraja"),
		now:    time.Now,
	}, nil
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// GetAccessToken returns a cached OAuth token, fetching a new one when the cached
// token is missing or about to expire.
func (c *DarajaClient) GetAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", &domain.GatewayError{Kind: domain.GatewayErrorNetwork, Message: "building token request", Err: err}
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", transportError("token request", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return "", &domain.GatewayError{
			Kind:    domain.GatewayErrorAuth,
			Code:    fmt.Sprintf("HTTP %d", resp.StatusCode),
			Message: "access token request failed: " + describeError(body),
		}
	}
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", &domain.GatewayError{Kind: domain.GatewayErrorAuth, Message: "access token response carried no token", Err: err}
	}

	ttl := time.Hour
	if secs, err := tok.ExpiresIn.Int64(); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	if ttl > tokenExpirySkew {
		ttl -= tokenExpirySkew
	}
	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(ttl)
	c.logger.DebugContext(ctx, "Fetched new access token", "expires_at", c.tokenExpiry)
	return c.token, nil
}

func (c *DarajaClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// Password derives the STK push password for a timestamp.
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

// RequestPush submits an STK push. A response with a non-zero ResponseCode is returned
// without error; the caller decides acceptance.
func (c *DarajaClient) RequestPush(ctx context.Context, req domain.PushRequest) (*domain.PushResponse, error) {
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format(timestampForm)
	payload := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   c.cfg.TransactionType,
		Amount:            req.Amount.IntPart(),
		PartyA:            req.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  firstNonEmpty(req.AccountReference, c.cfg.AccountReference, req.TransactionID.String()),
		TransactionDesc:   firstNonEmpty(req.Description, "Payment"),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.GatewayError{Kind: domain.GatewayErrorNetwork, Message: "building push request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	logger := c.logger.With("transaction_id", req.TransactionID)
	logger.InfoContext(ctx, "Sending STK push request", "amount", payload.Amount)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transportError("push request", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.invalidateToken()
		return nil, &domain.GatewayError{
			Kind:    domain.GatewayErrorAuth,
			Code:    fmt.Sprintf("HTTP %d", resp.StatusCode),
			Message: describeError(respBody),
		}
	case resp.StatusCode >= 500:
		return nil, &domain.GatewayError{
			Kind:    domain.GatewayErrorNetwork,
			Code:    fmt.Sprintf("HTTP %d", resp.StatusCode),
			Message: describeError(respBody),
		}
	}

	var out domain.PushResponse
	if err := json.Unmarshal(respBody, &out); err != nil || out.ResponseCode == "" {
		var apiErr errorResponse
		_ = json.Unmarshal(respBody, &apiErr)
		return nil, &domain.GatewayError{
			Kind:    domain.GatewayErrorRejected,
			Code:    firstNonEmpty(apiErr.ErrorCode, fmt.Sprintf("HTTP %d", resp.StatusCode)),
			Message: firstNonEmpty(apiErr.ErrorMessage, "unexpected push response"),
			Err:     err,
		}
	}
	logger.InfoContext(ctx, "STK push response received",
		"response_code", out.ResponseCode, "checkout_request_id", out.CheckoutRequestID)
	return &out, nil
}

func transportError(op string, err error) *domain.GatewayError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.GatewayError{Kind: domain.GatewayErrorTimeout, Message: op + " timed out", Err: err}
	}
	return &domain.GatewayError{Kind: domain.GatewayErrorNetwork, Message: op + " failed", Err: err}
}

func describeError(body []byte) string {
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.ErrorMessage != "" {
		if apiErr.ErrorCode != "" {
			return apiErr.ErrorCode + ": " + apiErr.ErrorMessage
		}
		return apiErr.ErrorMessage
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
