package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/internal/errs"
)

// SignatureHeader is the HTTP header carrying the webhook signature.
const SignatureHeader = "Signature"

// Tolerance is the maximum accepted clock skew between the signed timestamp
// and the receiving host. Replays older than this are rejected even with a
// valid signature.
const Tolerance = 5 * time.Minute

// Sign produces a signature header value for payload at time ts. Used by
// tests and local tooling; the provider computes the same scheme:
// HMAC-SHA256 over "<unix-ts>.<payload>" with the shared webhook secret.
func Sign(ts time.Time, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

// VerifySignature checks the signature header against the raw body. A
// failure is fatal to the request (400) but never to the process.
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	if header == "" {
		return errs.NewValidationError(SignatureHeader, "missing signature header")
	}

	var tsPart, sigPart string
	for _, part := range strings.Split(header, ",") {
		switch {
		case strings.HasPrefix(part, "t="):
			tsPart = strings.TrimPrefix(part, "t=")
		case strings.HasPrefix(part, "v1="):
			sigPart = strings.TrimPrefix(part, "v1=")
		}
	}
	if tsPart == "" || sigPart == "" {
		return errs.NewValidationError(SignatureHeader, "malformed signature header")
	}

	unix, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return errs.NewValidationError(SignatureHeader, "malformed signature timestamp")
	}

	ts := time.Unix(unix, 0)
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > Tolerance {
		return errs.NewValidationError(SignatureHeader, "signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", unix)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sigPart)) {
		return errs.NewValidationError(SignatureHeader, "signature mismatch")
	}
	return nil
}
