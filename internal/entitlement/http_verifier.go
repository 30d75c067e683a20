package entitlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultVerifyTimeout = 10 * time.Second

// HTTPVerifier checks premium claims against an external HTTP endpoint. The
// endpoint receives a JSON body {"userId": ..., "token": ...} and is expected
// to answer 200 with {"premium": bool}. Anything else counts as a failed
// verification so callers fail closed.
type HTTPVerifier struct {
	endpoint string
	client   *http.Client
}

// NewHTTPVerifier constructs a verifier for the provided endpoint URL.
func NewHTTPVerifier(endpoint string, client *http.Client) (*HTTPVerifier, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("verification endpoint is required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultVerifyTimeout}
	}
	return &HTTPVerifier{endpoint: endpoint, client: client}, nil
}

type verifyRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type verifyResponse struct {
	Premium bool `json:"premium"`
}

// VerifyPremium asks the external authority whether the token proves premium
// for the user.
func (v *HTTPVerifier) VerifyPremium(ctx context.Context, userID, token string) (bool, error) {
	payload, err := json.Marshal(verifyRequest{UserID: userID, Token: token})
	if err != nil {
		return false, fmt.Errorf("encode verification request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("call verification endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("verification endpoint returned status %d", resp.StatusCode)
	}
	var verdict verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return false, fmt.Errorf("decode verification response: %w", err)
	}
	return verdict.Premium, nil
}
