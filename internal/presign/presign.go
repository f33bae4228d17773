// Package presign issues short-lived, single-object grants that let a
// sandbox read or write object storage directly, without holding the
// platform's storage credentials.
package presign

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"k8s.io/utils/clock"
)

var (
	// ErrGrantUnavailable means no grant can be issued; callers fall back
	// to proxying the transfer through the engine.
	ErrGrantUnavailable = errors.New("presign: grant unavailable")
	ErrInvalidGrant     = errors.New("presign: invalid grant")
	ErrGrantExpired     = errors.New("presign: grant expired")
)

const (
	amzDateFormat   = "20060102T150405Z"
	unsignedPayload = "UNSIGNED-PAYLOAD"
	service         = "s3"

	DefaultExpiry = 15 * time.Minute
	MaxExpiry     = 7 * 24 * time.Hour
)

var authParams = []string{
	"X-Amz-Algorithm",
	"X-Amz-Credential",
	"X-Amz-Date",
	"X-Amz-SignedHeaders",
	"X-Amz-Security-Token",
	"X-Amz-Signature",
}

// Credentials are the storage keys grants are signed with.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func (c Credentials) valid() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Config locates the bucket grants point into.
type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	PathStyle bool
}

// Issuer signs S3 query-string grants with AWS Signature Version 4.
type Issuer struct {
	cfg    Config
	signer *v4.Signer
	clock  clock.PassiveClock
}

func NewIssuer(cfg Config, clk clock.PassiveClock) *Issuer {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	signer := v4.NewSigner(func(o *v4.SignerOptions) {
		// S3 object keys are encoded exactly once.
		o.DisableURIPathEscaping = true
	})
	return &Issuer{cfg: cfg, signer: signer, clock: clk}
}

// Issue returns a URL that authorizes exactly one method on exactly one
// key until expiry elapses.
func (i *Issuer) Issue(ctx context.Context, creds Credentials, key, method string, expiry time.Duration) (string, error) {
	if !creds.valid() || i.cfg.Endpoint == "" || i.cfg.Bucket == "" {
		return "", ErrGrantUnavailable
	}
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidGrant)
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if expiry > MaxExpiry {
		return "", fmt.Errorf("%w: expiry %s exceeds %s", ErrInvalidGrant, expiry, MaxExpiry)
	}

	u, err := i.objectURL(key)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("X-Amz-Expires", strconv.Itoa(int(expiry/time.Second)))
	u.RawQuery = q.Encode()

	return i.sign(ctx, creds, strings.ToUpper(method), u, i.clock.Now().UTC())
}

// Verify checks that rawURL is an unexpired grant for method signed with
// creds.
func (i *Issuer) Verify(ctx context.Context, creds Credentials, method, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	q := u.Query()
	sig := q.Get("X-Amz-Signature")
	signedAt, err := time.Parse(amzDateFormat, q.Get("X-Amz-Date"))
	if err != nil || sig == "" {
		return fmt.Errorf("%w: missing signature or date", ErrInvalidGrant)
	}
	secs, err := strconv.Atoi(q.Get("X-Amz-Expires"))
	if err != nil {
		return fmt.Errorf("%w: bad expiry", ErrInvalidGrant)
	}
	if i.clock.Now().After(signedAt.Add(time.Duration(secs) * time.Second)) {
		return ErrGrantExpired
	}

	for _, p := range authParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()

	expected, err := i.sign(ctx, creds, strings.ToUpper(method), u, signedAt)
	if err != nil {
		return err
	}
	eu, err := url.Parse(expected)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	if subtle.ConstantTimeCompare([]byte(eu.Query().Get("X-Amz-Signature")), []byte(sig)) != 1 {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidGrant)
	}
	return nil
}

func (i *Issuer) sign(ctx context.Context, creds Credentials, method string, u *url.URL, at time.Time) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	awsCreds := aws.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}
	signed, _, err := i.signer.PresignHTTP(ctx, awsCreds, req, unsignedPayload, service, i.cfg.Region, at)
	if err != nil {
		return "", fmt.Errorf("failed to presign: %w", err)
	}
	return signed, nil
}

func (i *Issuer) objectURL(key string) (*url.URL, error) {
	base, err := url.Parse(i.cfg.Endpoint)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: bad endpoint %q", ErrInvalidGrant, i.cfg.Endpoint)
	}
	key = strings.TrimPrefix(key, "/")
	if i.cfg.PathStyle {
		base.Path = "/" + i.cfg.Bucket + "/" + key
	} else {
		base.Host = i.cfg.Bucket + "." + base.Host
		base.Path = "/" + key
	}
	return base, nil
}
