// Package tencent implements the signed websocket streaming recognizer
// session for Tencent-compatible real-time ASR endpoints.
package tencent

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Credentials identify the caller to the recognizer service.
type Credentials struct {
	AppID     string
	SecretID  string
	SecretKey string
}

// Options control the endpoint the signer produces.
type Options struct {
	Scheme          string // wss by default
	Host            string
	Path            string // defaults to /asr/v2/<appid>
	EngineModelType string
	NeedVAD         bool
	VoiceFormat     int
	TTL             time.Duration
}

// DefaultOptions returns the options used against the public service.
func DefaultOptions() Options {
	return Options{
		Scheme:          "wss",
		Host:            "asr.cloud.tencent.com",
		EngineModelType: "8k_zh",
		NeedVAD:         true,
		VoiceFormat:     1,
		TTL:             24 * time.Hour,
	}
}

// Param is one query parameter of a signed endpoint.
type Param struct {
	Key   string
	Value string
}

// SignedEndpoint is an immutable, expiring connection URI.
type SignedEndpoint struct {
	BaseURL   string  // scheme://host/path
	Params    []Param // sorted by key, signature excluded
	Signature string  // percent-encoded
	VoiceID   string
	Expires   time.Time

	signingString string
}

// String returns the full connection URI.
func (e SignedEndpoint) String() string {
	return e.BaseURL + "?" + joinParams(e.Params) + "&signature=" + e.Signature
}

// SigningString returns the exact string the signature was computed over.
func (e SignedEndpoint) SigningString() string {
	return e.signingString
}

// Param returns the value of the named query parameter.
func (e SignedEndpoint) Param(key string) (string, bool) {
	for _, p := range e.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Signer builds signed endpoints from static credentials.
type Signer struct {
	creds Credentials
	opts  Options

	now     func() time.Time
	nonce   func() int64
	voiceID func() string
}

// NewSigner creates a signer. Zero-valued options fall back to DefaultOptions.
func NewSigner(creds Credentials, opts Options) *Signer {
	def := DefaultOptions()
	if opts.Scheme == "" {
		opts.Scheme = def.Scheme
	}
	if opts.Host == "" {
		opts.Host = def.Host
	}
	if opts.Path == "" {
		opts.Path = "/asr/v2/" + creds.AppID
	}
	if opts.EngineModelType == "" {
		opts.EngineModelType = def.EngineModelType
	}
	if opts.VoiceFormat == 0 {
		opts.VoiceFormat = def.VoiceFormat
	}
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	return &Signer{
		creds:   creds,
		opts:    opts,
		now:     time.Now,
		nonce:   randomNonce,
		voiceID: NewVoiceID,
	}
}

// Build assembles, sorts and signs the endpoint parameters for one session.
func (s *Signer) Build(vadSilenceMs int) SignedEndpoint {
	now := s.now()
	expires := now.Add(s.opts.TTL)
	if !expires.After(now) {
		expires = now.Add(time.Second)
	}
	voiceID := s.voiceID()

	needVAD := "0"
	if s.opts.NeedVAD {
		needVAD = "1"
	}

	params := []Param{
		{"engine_model_type", s.opts.EngineModelType},
		{"needvad", needVAD},
		{"timestamp", strconv.FormatInt(now.Unix(), 10)},
		{"vad_silence", strconv.Itoa(vadSilenceMs)},
		{"secretid", s.creds.SecretID},
		{"expired", strconv.FormatInt(expires.Unix(), 10)},
		{"voice_id", voiceID},
		{"voice_format", strconv.Itoa(s.opts.VoiceFormat)},
		{"nonce", strconv.FormatInt(s.nonce(), 10)},
	}
	sortParams(params)

	signing := s.opts.Host + s.opts.Path + "?" + joinParams(params)

	return SignedEndpoint{
		BaseURL:       s.opts.Scheme + "://" + s.opts.Host + s.opts.Path,
		Params:        params,
		Signature:     url.QueryEscape(sign(s.creds.SecretKey, signing)),
		VoiceID:       voiceID,
		Expires:       expires,
		signingString: signing,
	}
}

var (
	// ErrMissingSignature is returned when a URL carries no signature parameter.
	ErrMissingSignature = errors.New("missing signature")
	// ErrBadSignature is returned when the signature does not match the parameters.
	ErrBadSignature = errors.New("signature mismatch")
	// ErrExpired is returned when the endpoint's expiry has passed.
	ErrExpired = errors.New("endpoint expired")
)

// Verify checks the signature and expiry of a signed endpoint URL.
func Verify(secretKey, rawURL string) error {
	return VerifyAt(secretKey, rawURL, time.Now())
}

// VerifyAt is Verify against an explicit clock.
func VerifyAt(secretKey, rawURL string, now time.Time) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return fmt.Errorf("parse query: %w", err)
	}

	got := values.Get("signature")
	if got == "" {
		return ErrMissingSignature
	}

	params := make([]Param, 0, len(values))
	for k := range values {
		if k == "signature" {
			continue
		}
		params = append(params, Param{k, values.Get(k)})
	}
	sortParams(params)

	want := sign(secretKey, u.Host+u.Path+"?"+joinParams(params))
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrBadSignature
	}

	if exp := values.Get("expired"); exp != "" {
		ts, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			return fmt.Errorf("parse expired: %w", err)
		}
		if !time.Unix(ts, 0).After(now) {
			return ErrExpired
		}
	}
	return nil
}

// NewVoiceID returns a fresh URL-safe session voice id.
func NewVoiceID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func sign(secretKey, s string) string {
	mac := hmac.New(sha1.New, []byte(secretKey))
	mac.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func sortParams(params []Param) {
	sort.Slice(params, func(i, j int) bool { return params[i].Key < params[j].Key })
}

func joinParams(params []Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.Key + "=" + p.Value
	}
	return strings.Join(parts, "&")
}

// randomNonce returns a random 6 digit number.
func randomNonce() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 100000 + time.Now().UnixNano()%900000
	}
	return 100000 + n.Int64()
}
