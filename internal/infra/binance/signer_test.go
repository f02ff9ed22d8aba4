package binance

import (
	"net/url"
	"testing"
)

func TestComputeHmacSha256(t *testing.T) {
	// Test vector from the Binance API documentation
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	expected := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"

	if got := computeHmacSha256(payload, secret); got != expected {
		t.Errorf("signature = %s, want %s", got, expected)
	}
}

func TestSigner_Sign(t *testing.T) {
	s := NewSigner("key", "secret")

	params := url.Values{"symbol": {"BTCUSDT"}}
	signed := s.Sign(params)

	if signed.Get("timestamp") == "" {
		t.Error("timestamp must be set")
	}
	if len(signed.Get("timestamp")) != 13 { // milliseconds
		t.Errorf("timestamp %q is not millisecond precision", signed.Get("timestamp"))
	}
	sig := signed.Get("signature")
	if len(sig) != 64 { // hex-encoded SHA256
		t.Errorf("signature length = %d, want 64 hex chars", len(sig))
	}
	if s.APIKey() != "key" {
		t.Errorf("APIKey = %s, want key", s.APIKey())
	}

	// The signature must cover everything except itself.
	verify := url.Values{}
	for k, v := range signed {
		if k != "signature" {
			verify[k] = v
		}
	}
	if computeHmacSha256(verify.Encode(), "secret") != sig {
		t.Error("signature does not match the signed query")
	}
}
