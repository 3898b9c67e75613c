package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallenge_RoundTrip(t *testing.T) {
	c := Challenge{
		PaymentID: "pi_01hq3x",
		Amount:    "0.5",
		Currency:  "ZEC",
		Address:   "zs1exampleaddress",
		Resource:  "/premium/article-1",
		Expires:   1893456000,
		Nonce:     "9f86d081884c7d65",
		Signature: "deadbeef",
	}

	parsed, err := ParseChallenge(EncodeChallenge(c))
	require.NoError(t, err)
	assert.Equal(t, c, *parsed)
}

func TestAuthorization_RoundTrip(t *testing.T) {
	a := Authorization{
		PaymentID:     "pi_01hq3x",
		ClientAddress: "t1VJL2dPUyXK7avDRGqhqQA5bw2eFMdcsfb",
		TxID:          "a3f2c1",
		Signature:     "cafebabe",
		Timestamp:     1700000000,
	}

	parsed, err := ParseAuthorization(EncodeAuthorization(a))
	require.NoError(t, err)
	assert.Equal(t, a, *parsed)
}

func TestParseAuthorization_OptionalTxID(t *testing.T) {
	a := Authorization{
		PaymentID:     "pi_x",
		ClientAddress: "zs1abc",
		Signature:     "sig",
		Timestamp:     1700000000,
	}

	parsed, err := ParseAuthorization(EncodeAuthorization(a))
	require.NoError(t, err)
	assert.Empty(t, parsed.TxID)
}

func TestParseAuthorization_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"wrong scheme", `Bearer token`},
		{"no params", `X402`},
		{"unquoted value", `X402 paymentId=abc, clientAddress="zs1", signature="s", timestamp="1"`},
		{"missing paymentId", `X402 clientAddress="zs1", signature="s", timestamp="1"`},
		{"missing signature", `X402 paymentId="pi_1", clientAddress="zs1", timestamp="1"`},
		{"missing timestamp", `X402 paymentId="pi_1", clientAddress="zs1", signature="s"`},
		{"non-numeric timestamp", `X402 paymentId="pi_1", clientAddress="zs1", signature="s", timestamp="soon"`},
		{"garbage param", `X402 paymentId="pi_1", clientAddress="zs1", signature="s", timestamp="1", junk`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseAuthorization(tt.header)
			assert.Error(t, err)
			assert.Nil(t, parsed)
		})
	}
}

func TestParseChallenge_CommaInsideQuotedValue(t *testing.T) {
	header := `X402 paymentId="pi_1", amount="0.5", currency="ZEC", address="zs1a", resource="/a,b", expires="10", nonce="n", signature="s"`

	parsed, err := ParseChallenge(header)
	require.NoError(t, err)
	assert.Equal(t, "/a,b", parsed.Resource)
}

func TestPaymentHeader_RoundTrip(t *testing.T) {
	type payload struct {
		PaymentID string `json:"paymentId"`
		TxID      string `json:"txId"`
	}
	in := payload{PaymentID: "pi_7", TxID: "feed"}

	encoded, err := EncodePaymentHeader(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, DecodePaymentHeader(encoded, &out))
	assert.Equal(t, in, out)
}

func TestDecodePaymentHeader_Invalid(t *testing.T) {
	var out map[string]any
	assert.Error(t, DecodePaymentHeader("not-base64!!", &out))
	assert.Error(t, DecodePaymentHeader("bm90IGpzb24=", &out)) // "not json"
}
