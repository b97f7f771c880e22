package smsgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/viper"
)

// HTTPGateway submits messages to the SMS provider's REST endpoint.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway creates the production gateway from config.
func NewHTTPGateway() *HTTPGateway {
	return &HTTPGateway{
		baseURL: viper.GetString("providers.sms.base_url"),
		client:  &http.Client{},
	}
}

type submitRequest struct {
	Sender string `json:"sender"`
	To     string `json:"to"`
	Body   string `json:"body"`
}

type submitResponse struct {
	MessageID string `json:"messageId"`
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error"`
}

// Submit implements Gateway. The provider reports errors either as non-2xx
// statuses or as an errorCode field; both map onto this package's codes.
func (g *HTTPGateway) Submit(ctx context.Context, apiKey, sender, to, body string) (string, error) {
	payload, err := json.Marshal(submitRequest{Sender: sender, To: to, Body: body})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &GatewayError{Code: CodeTimeout, Message: "gateway call timed out"}
		}

		return "", &GatewayError{Code: CodeUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &GatewayError{Code: CodeUnavailable, Message: fmt.Sprintf("malformed gateway response: %v", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &GatewayError{Code: CodeThrottled, Message: parsed.Error}
	case resp.StatusCode == http.StatusUnauthorized:
		return "", &GatewayError{Code: CodeAuthFailed, Message: parsed.Error}
	case resp.StatusCode >= 500:
		return "", &GatewayError{Code: CodeUnavailable, Message: parsed.Error}
	case parsed.ErrorCode != "":
		return "", &GatewayError{Code: parsed.ErrorCode, Message: parsed.Error}
	case resp.StatusCode >= 400:
		return "", &GatewayError{Code: CodeInvalidRecipient, Message: parsed.Error}
	}

	return parsed.MessageID, nil
}
