package gepg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/gatewaylog"
)

// content codes sent in the Gepg-Com header, one per request type.
var comCodes = map[gatewaylog.RequestType]string{
	gatewaylog.ReqTypeControlNumber:    "default.sp.in",
	gatewaylog.ReqTypeReconciliation:   "reconc.sp.in",
	gatewaylog.ReqTypeBillCancellation: "billcancl.sp.in",
}

// endpoint paths on the gateway, one per request type.
var endpoints = map[gatewaylog.RequestType]string{
	gatewaylog.ReqTypeControlNumber:    "/api/bill/sigqrequest",
	gatewaylog.ReqTypeReconciliation:   "/api/sigqrequest/reconc/sig/sigqrequest",
	gatewaylog.ReqTypeBillCancellation: "/api/sigcancel_gepg/sigqrequest",
}

type ClientConfig struct {
	BaseURL     string
	SpCode      string
	Timeout     time.Duration
	MaxAttempts uint64
	Backoff     time.Duration
}

// Client posts signed envelopes to the gateway and parses the
// synchronous acknowledgement. Transport failures and 5xx responses are
// retried with capped exponential backoff; a parseable ack with a
// non-continue status is returned to the caller without retrying, since
// that is the gateway's final word on the request.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Submit posts one signed envelope for the given request type and
// returns the parsed acknowledgement together with the raw ack bytes
// for the audit trail.
func (c *Client) Submit(ctx context.Context, reqType gatewaylog.RequestType, payload []byte) (Ack, []byte, error) {
	com, ok := comCodes[reqType]
	if !ok {
		return Ack{}, nil, fmt.Errorf("no gateway endpoint for request type %s", reqType)
	}
	url := c.cfg.BaseURL + endpoints[reqType]

	var ack Ack
	var rawAck []byte

	backoff := retry.WithMaxRetries(c.cfg.MaxAttempts-1, retry.NewExponential(c.cfg.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build gateway request: %w", err)
		}
		req.Header.Set("Content-Type", "application/xml")
		req.Header.Set("Gepg-Com", com)
		req.Header.Set("Gepg-Code", c.cfg.SpCode)
		req.Header.Set("Gepg-Alg", "00S2")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("gateway request failed, will retry",
				"req_type", reqType,
				"url", url,
				"error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read gateway ack: %w", err))
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			c.logger.Warn("gateway returned server error, will retry",
				"req_type", reqType,
				"status_code", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("gateway returned status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, body)
		}

		parsed, err := ParseAck(body)
		if err != nil {
			return fmt.Errorf("parse gateway ack: %w", err)
		}
		ack = parsed
		rawAck = body
		return nil
	})
	if err != nil {
		return Ack{}, rawAck, err
	}

	c.logger.Info("gateway acknowledged request",
		"req_type", reqType,
		"req_id", ack.ReqID,
		"ack_status", ack.StatusCode)
	return ack, rawAck, nil
}
