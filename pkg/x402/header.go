// Package x402 implements the wire encoding of the X402 payment protocol
// headers: the WWW-Authenticate challenge issued with a 402 response, the
// Authorization header a client submits after paying, and the base64-JSON
// payment header used by the facilitator interop endpoints.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Scheme is the authentication scheme identifier used in both headers.
const Scheme = "X402"

var (
	ErrNotX402Header   = errors.New("x402: header does not use the X402 scheme")
	ErrMalformedHeader = errors.New("x402: malformed header")
	ErrMissingField    = errors.New("x402: missing required field")
)

// Challenge is the parsed form of a WWW-Authenticate challenge header.
type Challenge struct {
	PaymentID string
	Amount    string
	Currency  string
	Address   string
	Resource  string
	Expires   int64 // Unix seconds
	Nonce     string
	Signature string
}

// Authorization is the parsed form of a client Authorization header.
type Authorization struct {
	PaymentID     string
	ClientAddress string
	TxID          string // optional, may be empty
	Signature     string
	Timestamp     int64 // Unix seconds
}

// EncodeChallenge renders a Challenge as a WWW-Authenticate header value.
func EncodeChallenge(c Challenge) string {
	return fmt.Sprintf(
		`%s paymentId=%q, amount=%q, currency=%q, address=%q, resource=%q, expires=%q, nonce=%q, signature=%q`,
		Scheme, c.PaymentID, c.Amount, c.Currency, c.Address, c.Resource,
		strconv.FormatInt(c.Expires, 10), c.Nonce, c.Signature,
	)
}

// EncodeAuthorization renders an Authorization as an Authorization header value.
func EncodeAuthorization(a Authorization) string {
	return fmt.Sprintf(
		`%s paymentId=%q, clientAddress=%q, txid=%q, signature=%q, timestamp=%q`,
		Scheme, a.PaymentID, a.ClientAddress, a.TxID, a.Signature,
		strconv.FormatInt(a.Timestamp, 10),
	)
}

// ParseChallenge parses a WWW-Authenticate header value into a Challenge.
func ParseChallenge(header string) (*Challenge, error) {
	params, err := parseParams(header)
	if err != nil {
		return nil, err
	}
	c := &Challenge{
		PaymentID: params["paymentId"],
		Amount:    params["amount"],
		Currency:  params["currency"],
		Address:   params["address"],
		Resource:  params["resource"],
		Nonce:     params["nonce"],
		Signature: params["signature"],
	}
	for _, f := range []struct{ name, val string }{
		{"paymentId", c.PaymentID}, {"amount", c.Amount}, {"address", c.Address},
		{"nonce", c.Nonce}, {"signature", c.Signature},
	} {
		if f.val == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}
	if raw, ok := params["expires"]; ok {
		c.Expires, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: expires %q is not numeric", ErrMalformedHeader, raw)
		}
	}
	return c, nil
}

// ParseAuthorization parses an Authorization header value. A missing or
// malformed header returns a typed error, never a panic; txid is optional.
func ParseAuthorization(header string) (*Authorization, error) {
	params, err := parseParams(header)
	if err != nil {
		return nil, err
	}
	a := &Authorization{
		PaymentID:     params["paymentId"],
		ClientAddress: params["clientAddress"],
		TxID:          params["txid"],
		Signature:     params["signature"],
	}
	for _, f := range []struct{ name, val string }{
		{"paymentId", a.PaymentID}, {"clientAddress", a.ClientAddress}, {"signature", a.Signature},
	} {
		if f.val == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}
	raw, ok := params["timestamp"]
	if !ok {
		return nil, fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	a.Timestamp, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp %q is not numeric", ErrMalformedHeader, raw)
	}
	return a, nil
}

// parseParams splits `X402 k1="v1", k2="v2"` into a map.
func parseParams(header string) (map[string]string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrNotX402Header
	}
	scheme, rest, found := strings.Cut(header, " ")
	if !found || scheme != Scheme {
		return nil, ErrNotX402Header
	}

	params := make(map[string]string)
	for _, part := range splitParams(rest) {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, part)
		}
		unquoted, err := strconv.Unquote(val)
		if err != nil {
			return nil, fmt.Errorf("%w: value for %q is not quoted", ErrMalformedHeader, key)
		}
		params[key] = unquoted
	}
	return params, nil
}

// splitParams splits on commas outside quoted values.
func splitParams(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ',' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		parts = append(parts, cur.String())
	}
	return parts
}

// DecodePaymentHeader decodes the base64-encoded JSON payment header used by
// the interop /verify and /settle endpoints.
func DecodePaymentHeader(encoded string, v any) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	return nil
}

// EncodePaymentHeader encodes a payload as a base64 JSON payment header.
func EncodePaymentHeader(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
