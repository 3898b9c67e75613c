package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"
)

// webhookSigner implements the t=<unix>,v1=<hex> signature header. The
// signed material is timestamp + "." + raw body; receivers must verify over
// the exact bytes received, never a re-serialization.
type webhookSigner struct {
	tolerance time.Duration
}

// NewWebhookSigner creates a signer whose Verify rejects timestamps older or
// newer than tolerance.
func NewWebhookSigner(tolerance time.Duration) ports.WebhookSigner {
	return &webhookSigner{tolerance: tolerance}
}

// Sign computes the signature header for a body at the given time.
func (w *webhookSigner) Sign(secret string, body []byte, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, signWebhookBody(secret, ts, body))
}

// Verify checks a signature header against the raw body. Each failure mode
// maps to its own error so receivers can tell misconfiguration from attack.
func (w *webhookSigner) Verify(secret string, body []byte, header string, now time.Time) error {
	if header == "" {
		return apperror.ErrWebhookMissingSignature()
	}

	var tsPart, sigPart string
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(part, "=")
		if !found {
			return apperror.ErrWebhookInvalidSignatureFormat()
		}
		switch strings.TrimSpace(k) {
		case "t":
			tsPart = v
		case "v1":
			sigPart = v
		}
	}
	if tsPart == "" || sigPart == "" {
		return apperror.ErrWebhookInvalidSignatureFormat()
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return apperror.ErrWebhookInvalidTimestamp()
	}

	drift := now.Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > w.tolerance {
		return apperror.ErrWebhookSignatureTooOld()
	}

	expected := signWebhookBody(secret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(sigPart)) {
		return apperror.ErrWebhookInvalidSignature()
	}
	return nil
}

func signWebhookBody(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
