package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how old a signed webhook timestamp may
// be before the delivery is rejected as a possible replay.
const DefaultSignatureTolerance = 300 * time.Second

// MercadoPagoSignatureValidator verifies the x-signature header scheme:
// the header carries "ts=<unix>,v1=<hex hmac>", and v1 is an HMAC-SHA256
// over the template "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
type MercadoPagoSignatureValidator struct {
	Secret    string
	Tolerance time.Duration // 0 disables the timestamp check
}

// NewMercadoPagoSignatureValidator uses the default replay tolerance.
func NewMercadoPagoSignatureValidator(secret string) *MercadoPagoSignatureValidator {
	return &MercadoPagoSignatureValidator{Secret: secret, Tolerance: DefaultSignatureTolerance}
}

// Validate checks signatureHeader against the request's data id and request
// id. Returns ErrInvalidSignature (wrapped) on any failure so callers can
// reject without side effects.
func (v *MercadoPagoSignatureValidator) Validate(dataID, requestID, signatureHeader string, now time.Time) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	ts, v1, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return err
	}
	if strings.TrimSpace(dataID) == "" || strings.TrimSpace(requestID) == "" {
		return fmt.Errorf("%w: missing data id or request id", ErrInvalidSignature)
	}

	if v.Tolerance > 0 {
		tsSec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: malformed timestamp %q", ErrInvalidSignature, ts)
		}
		// MercadoPago sends the ts component in milliseconds.
		signedAt := time.UnixMilli(tsSec)
		if tsSec < 1e12 {
			signedAt = time.Unix(tsSec, 0)
		}
		age := now.Sub(signedAt)
		if age > v.Tolerance || age < -v.Tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	template := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(strings.TrimSpace(dataID)), strings.TrimSpace(requestID), ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(template))
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(v1)))
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrInvalidSignature)
	}
	if !hmac.Equal(expected, got) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return nil
}

func parseSignatureHeader(header string) (ts, v1 string, err error) {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "ts":
			ts = strings.TrimSpace(kv[1])
		case "v1":
			v1 = strings.TrimSpace(kv[1])
		}
	}
	if ts == "" || v1 == "" {
		return "", "", fmt.Errorf("%w: malformed x-signature header", ErrInvalidSignature)
	}
	return ts, v1, nil
}
