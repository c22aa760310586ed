package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openarb/arbot/internal/domain"
)

// RESTExecClient places signed market orders against a venue's REST order
// endpoint. Venue rejections and transport faults surface as failed
// TradeResults with a human-readable message; the error return is reserved
// for request-construction faults.
type RESTExecClient struct {
	venueID   string
	baseURL   string
	orderPath string
	auth      *HMACAuth
	http      *http.Client
	logger    *slog.Logger
}

// NewRESTExecClient creates an execution client for one venue. orderPath
// defaults to "/api/v3/order" when empty.
func NewRESTExecClient(venueID, baseURL, orderPath string, auth *HMACAuth, logger *slog.Logger) *RESTExecClient {
	if orderPath == "" {
		orderPath = "/api/v3/order"
	}
	return &RESTExecClient{
		venueID:   venueID,
		baseURL:   strings.TrimRight(baseURL, "/"),
		orderPath: orderPath,
		auth:      auth,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    logger.With(slog.String("component", "rest_exec"), slog.String("venue", venueID)),
	}
}

type orderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Type     string  `json:"type"`
	Quantity float64 `json:"quantity"`
}

type orderResponse struct {
	OrderID     string  `json:"orderId"`
	Status      string  `json:"status"`
	ExecutedQty float64 `json:"executedQty,string"`
	AvgPrice    float64 `json:"avgPrice,string"`
	Commission  float64 `json:"commission,string"`
	Message     string  `json:"msg"`
}

// PlaceMarketOrder submits a market order and maps the response to a
// TradeResult. The caller bounds the call with its own context deadline.
func (c *RESTExecClient) PlaceMarketOrder(ctx context.Context, venueID string, pair domain.TradingPair, side domain.Side, qty float64) (domain.TradeResult, error) {
	started := time.Now()
	result := domain.TradeResult{
		ID:           uuid.New().String(),
		VenueID:      c.venueID,
		Pair:         pair,
		Side:         side,
		RequestedQty: qty,
		ExecutedAt:   started.UTC(),
	}

	body, err := json.Marshal(orderRequest{
		Symbol:   pair.Base + pair.Quote,
		Side:     strings.ToUpper(string(side)),
		Type:     "MARKET",
		Quantity: qty,
	})
	if err != nil {
		return result, fmt.Errorf("exec: marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.orderPath, bytes.NewReader(body))
	if err != nil {
		return result, fmt.Errorf("exec: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		for k, v := range c.auth.SignedHeaders(http.MethodPost, c.orderPath, string(body)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	result.ExecutionTimeMs = time.Since(started).Milliseconds()
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("order request failed: %v", err)
		return result, nil
	}
	defer resp.Body.Close()

	var or orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		result.ErrorMessage = fmt.Sprintf("decode order response: %v", err)
		return result, nil
	}
	if resp.StatusCode != http.StatusOK || strings.ToUpper(or.Status) != "FILLED" {
		msg := or.Message
		if msg == "" {
			msg = fmt.Sprintf("order not filled (status %d/%s)", resp.StatusCode, or.Status)
		}
		result.ErrorMessage = msg
		c.logger.Warn("order rejected",
			slog.String("pair", pair.String()),
			slog.String("side", string(side)),
			slog.String("message", msg),
		)
		return result, nil
	}

	result.IsSuccess = true
	result.ExecutedQty = or.ExecutedQty
	result.ExecutedPrice = or.AvgPrice
	result.Fee = or.Commission
	return result, nil
}
