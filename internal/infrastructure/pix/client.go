package pix

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/honeynil/pix-ledger/internal/infrastructure/observability"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type Payer struct {
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Document string `json:"document,omitempty"`
}

type ChargeRequest struct {
	Reference   string
	Amount      decimal.Decimal
	ExpiresIn   time.Duration
	Description string
	Payer       Payer
}

type chargeRequestBody struct {
	ExternalID  string `json:"external_id"`
	Amount      string `json:"amount"`
	ExpiresIn   int64  `json:"expires_in"`
	Description string `json:"description,omitempty"`
	Payer       Payer  `json:"payer"`
}

// Charge is the provider's view of a PIX charge.
type Charge struct {
	ID          string          `json:"id"`
	ExternalID  string          `json:"external_id"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	QRCode      string          `json:"qr_code"`
	QRCodeImage string          `json:"qr_code_image"`
	ExpiresAt   time.Time       `json:"expires_at"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

// Client talks to the PIX provider. Requests are authenticated with a bearer
// token obtained through the OAuth2 client-credentials grant; the token is
// cached and refreshed by the underlying transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := &http.Client{Timeout: cfg.Timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	httpClient := cc.Client(ctx)
	httpClient.Timeout = cfg.Timeout

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (charge *Charge, err error) {
	tracer := otel.Tracer("pix-client")
	ctx, span := tracer.Start(ctx, "CreateCharge")
	span.SetAttributes(attribute.String("reference", req.Reference))
	defer span.End()
	defer func() { record("create_charge", err, span) }()

	body, err := json.Marshal(chargeRequestBody{
		ExternalID:  req.Reference,
		Amount:      req.Amount.StringFixed(2),
		ExpiresIn:   int64(req.ExpiresIn.Seconds()),
		Description: req.Description,
		Payer:       req.Payer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	charge = &Charge{}
	if err = c.do(ctx, http.MethodPost, "/charges", body, charge); err != nil {
		return nil, err
	}
	if charge.ID == "" || charge.QRCode == "" {
		err = fmt.Errorf("%w: charge response missing id or qr_code", pkgerrors.ErrProviderUnavailable)
		return nil, err
	}

	slog.Info("pix charge created", "reference", req.Reference, "charge_id", charge.ID, "expires_at", charge.ExpiresAt)
	return charge, nil
}

func (c *Client) GetCharge(ctx context.Context, id string) (charge *Charge, err error) {
	tracer := otel.Tracer("pix-client")
	ctx, span := tracer.Start(ctx, "GetCharge")
	span.SetAttributes(attribute.String("charge_id", id))
	defer span.End()
	defer func() { record("get_charge", err, span) }()

	charge = &Charge{}
	if err = c.do(ctx, http.MethodGet, "/charges/"+url.PathEscape(id), nil, charge); err != nil {
		return nil, err
	}
	if charge.ID == "" {
		err = fmt.Errorf("%w: charge response missing id", pkgerrors.ErrProviderUnavailable)
		return nil, err
	}
	return charge, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", pkgerrors.ErrProviderUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s returned %d: %s", pkgerrors.ErrProviderUnavailable, method, path, resp.StatusCode, truncate(raw, 256))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", pkgerrors.ErrProviderUnavailable, err)
	}
	return nil
}

func record(operation string, err error, span trace.Span) {
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.ProviderRequests.WithLabelValues(operation, status).Inc()
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// VerifySignature checks a hex HMAC-SHA256 of body keyed with secret.
func VerifySignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
