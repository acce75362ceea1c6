package main

import (
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"

	"wabagate/internal/config"
	"wabagate/internal/constants"
	"wabagate/pkg/whatsapp"
	"wabagate/pkg/whatsapp/types"
)

// verifyWebhookRequest reads the body and checks the provider signature. With
// no app secret configured, unsigned events are accepted outside production.
func verifyWebhookRequest(r *http.Request, appSecret string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, constants.MaxWebhookBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > constants.MaxWebhookBodyBytes {
		return nil, fmt.Errorf("webhook body exceeds %d bytes", constants.MaxWebhookBodyBytes)
	}

	if appSecret == "" {
		if config.IsProduction() {
			return nil, fmt.Errorf("webhook app secret is required in production mode")
		}
		return body, nil
	}

	if err := whatsapp.VerifySignature(appSecret, body, r.Header.Get(types.SignatureHeader)); err != nil {
		return nil, err
	}
	return body, nil
}

// verifyChallenge answers the subscription handshake. It returns the challenge
// to echo and whether the token matched.
func verifyChallenge(r *http.Request, verifyToken string) (string, bool) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || verifyToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(q.Get("hub.verify_token")), []byte(verifyToken)) != 1 {
		return "", false
	}
	return q.Get("hub.challenge"), true
}
