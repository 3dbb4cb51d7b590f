package tencent

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"
)

func fixedSigner(secretKey string) *Signer {
	s := NewSigner(
		Credentials{AppID: "1250000000", SecretID: "AKIDexample", SecretKey: secretKey},
		Options{NeedVAD: true},
	)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	s.nonce = func() int64 { return 123456 }
	s.voiceID = func() string { return "dm9pY2UtaWQ" }
	return s
}

func TestSigner_Build(t *testing.T) {
	ep := fixedSigner("secret").Build(800)

	if ep.BaseURL != "wss://asr.cloud.tencent.com/asr/v2/1250000000" {
		t.Errorf("unexpected base url %s", ep.BaseURL)
	}
	if ep.VoiceID != "dm9pY2UtaWQ" {
		t.Errorf("unexpected voice id %s", ep.VoiceID)
	}

	want := map[string]string{
		"engine_model_type": "8k_zh",
		"expired":           "1700086400",
		"needvad":           "1",
		"nonce":             "123456",
		"secretid":          "AKIDexample",
		"timestamp":         "1700000000",
		"vad_silence":       "800",
		"voice_format":      "1",
		"voice_id":          "dm9pY2UtaWQ",
	}
	if len(ep.Params) != len(want) {
		t.Fatalf("expected %d params, got %d", len(want), len(ep.Params))
	}
	for k, v := range want {
		got, ok := ep.Param(k)
		if !ok || got != v {
			t.Errorf("param %s = %q, want %q", k, got, v)
		}
	}

	if !sort.SliceIsSorted(ep.Params, func(i, j int) bool { return ep.Params[i].Key < ep.Params[j].Key }) {
		t.Error("expected params sorted by key")
	}
	if !ep.Expires.After(time.Unix(1700000000, 0)) {
		t.Error("expected expiry after timestamp")
	}
}

func TestSigner_SigningStringExcludesScheme(t *testing.T) {
	ep := fixedSigner("secret").Build(1000)

	s := ep.SigningString()
	if strings.Contains(s, "wss://") {
		t.Errorf("signing string must not contain the scheme: %s", s)
	}
	if !strings.HasPrefix(s, "asr.cloud.tencent.com/asr/v2/1250000000?engine_model_type=") {
		t.Errorf("unexpected signing string prefix: %s", s)
	}
	if strings.Contains(s, "signature=") {
		t.Error("signing string must not contain the signature")
	}
}

func TestSigner_SignatureRoundTrip(t *testing.T) {
	for _, vad := range []int{0, 240, 1000, 2000} {
		ep := fixedSigner("round-trip-key").Build(vad)

		parts := make([]string, len(ep.Params))
		for i, p := range ep.Params {
			parts[i] = p.Key + "=" + p.Value
		}
		sort.Strings(parts)
		joined := "asr.cloud.tencent.com/asr/v2/1250000000?" + strings.Join(parts, "&")

		mac := hmac.New(sha1.New, []byte("round-trip-key"))
		mac.Write([]byte(joined))
		want := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

		if ep.Signature != want {
			t.Errorf("vad=%d: signature %s, want %s", vad, ep.Signature, want)
		}
		if !strings.HasSuffix(ep.String(), "&signature="+want) {
			t.Errorf("vad=%d: url does not end with the signature: %s", vad, ep.String())
		}
	}
}

func TestVerify(t *testing.T) {
	ep := fixedSigner("secret").Build(1000)
	now := time.Unix(1700000100, 0)

	if err := VerifyAt("secret", ep.String(), now); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	tests := []struct {
		name string
		key  string
		url  string
		now  time.Time
		want error
	}{
		{"wrong key", "other", ep.String(), now, ErrBadSignature},
		{"tampered param", "secret", strings.Replace(ep.String(), "vad_silence=1000", "vad_silence=2000", 1), now, ErrBadSignature},
		{"missing signature", "secret", ep.BaseURL + "?" + joinParams(ep.Params), now, ErrMissingSignature},
		{"expired", "secret", ep.String(), ep.Expires.Add(time.Second), ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyAt(tt.key, tt.url, tt.now); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewSigner_Defaults(t *testing.T) {
	s := NewSigner(Credentials{AppID: "42"}, Options{})

	if s.opts.Scheme != "wss" || s.opts.Host != "asr.cloud.tencent.com" {
		t.Errorf("unexpected defaults: %+v", s.opts)
	}
	if s.opts.Path != "/asr/v2/42" {
		t.Errorf("expected path from app id, got %s", s.opts.Path)
	}
	if s.opts.TTL != 24*time.Hour {
		t.Errorf("expected 24h ttl, got %v", s.opts.TTL)
	}
}

func TestNewVoiceID(t *testing.T) {
	a, b := NewVoiceID(), NewVoiceID()

	if a == b {
		t.Error("expected unique voice ids")
	}
	if len(a) != 22 {
		t.Errorf("expected 22 characters for 16 bytes unpadded, got %d (%s)", len(a), a)
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("expected url-safe unpadded id, got %s", a)
	}
}

func TestRandomNonce(t *testing.T) {
	for i := 0; i < 100; i++ {
		if n := randomNonce(); n < 100000 || n > 999999 {
			t.Fatalf("nonce out of range: %d", n)
		}
	}
}
