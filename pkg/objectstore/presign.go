package objectstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrSignatureInvalid is returned when a presigned URL's signature does not
// match or has expired.
var ErrSignatureInvalid = errors.New("objectstore: invalid or expired signature")

// Presigner issues and verifies HMAC-SHA256 presigned URLs for object and
// transform operations. An empty secret never produces a valid signature.
type Presigner struct {
	secret []byte
}

// NewPresigner creates a Presigner keyed by secret.
func NewPresigner(secret string) *Presigner {
	return &Presigner{secret: []byte(secret)}
}

func intField(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// canonicalObject builds the canonical string for a plain object operation:
// tenant, method, bucket, key, expiry, max bytes (optional), content type
// (optional), one field per line.
func canonicalObject(tenant, method, bucket, key string, expiresAt int64, maxBytes int64, contentType string) string {
	maxBytesField := ""
	if maxBytes > 0 {
		maxBytesField = strconv.FormatInt(maxBytes, 10)
	}
	return strings.Join([]string{
		tenant,
		method,
		bucket,
		key,
		strconv.FormatInt(expiresAt, 10),
		maxBytesField,
		contentType,
	}, "\n")
}

// canonicalTransform builds the canonical string for a TRANSFORM operation:
// tenant, the literal "TRANSFORM", bucket, key, width, height, format,
// quality (all optional), expiry.
func canonicalTransform(tenant, bucket, key string, spec TransformSpec, expiresAt int64) string {
	return strings.Join([]string{
		tenant,
		"TRANSFORM",
		bucket,
		key,
		intField(spec.Width),
		intField(spec.Height),
		spec.Format,
		intField(spec.Quality),
		strconv.FormatInt(expiresAt, 10),
	}, "\n")
}

func sign(secret []byte, canonical string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignObject produces a signature and the expiry it was computed against for
// a plain object operation. ttl is measured from now. maxBytes and
// contentType may be zero/empty when the caller doesn't want to pin them.
func (p *Presigner) SignObject(tenant, method, bucket, key string, ttl time.Duration, maxBytes int64, contentType string) (signature string, expiresAt int64) {
	expiresAt = time.Now().Add(ttl).Unix()
	return sign(p.secret, canonicalObject(tenant, method, bucket, key, expiresAt, maxBytes, contentType)), expiresAt
}

// VerifyObject checks a presigned object-operation signature: it must match
// and must not have expired. An empty secret never validates.
func (p *Presigner) VerifyObject(tenant, method, bucket, key string, expiresAt int64, maxBytes int64, contentType string, signature string) error {
	if len(p.secret) == 0 {
		return ErrSignatureInvalid
	}
	if time.Now().Unix() > expiresAt {
		return ErrSignatureInvalid
	}
	want := sign(p.secret, canonicalObject(tenant, method, bucket, key, expiresAt, maxBytes, contentType))
	if subtle.ConstantTimeCompare([]byte(want), []byte(signature)) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}

// SignTransform produces a signature and the expiry it was computed against
// for an image-transform operation.
func (p *Presigner) SignTransform(tenant, bucket, key string, ttl time.Duration, spec TransformSpec) (signature string, expiresAt int64) {
	expiresAt = time.Now().Add(ttl).Unix()
	return sign(p.secret, canonicalTransform(tenant, bucket, key, spec, expiresAt)), expiresAt
}

// VerifyTransform checks a presigned transform-operation signature. An empty
// secret never validates.
func (p *Presigner) VerifyTransform(tenant, bucket, key string, expiresAt int64, spec TransformSpec, signature string) error {
	if len(p.secret) == 0 {
		return ErrSignatureInvalid
	}
	if time.Now().Unix() > expiresAt {
		return ErrSignatureInvalid
	}
	want := sign(p.secret, canonicalTransform(tenant, bucket, key, spec, expiresAt))
	if subtle.ConstantTimeCompare([]byte(want), []byte(signature)) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}

// BuildURL composes a presigned object-operation URL from a base endpoint,
// for callers that don't want to assemble query values themselves.
func (p *Presigner) BuildURL(base, method, tenant, bucket, key string, ttl time.Duration, maxBytes int64, contentType string) string {
	signature, expiresAt := p.SignObject(tenant, method, bucket, key, ttl, maxBytes, contentType)
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expiresAt, 10))
	q.Set("sig", signature)
	if maxBytes > 0 {
		q.Set("maxBytes", strconv.FormatInt(maxBytes, 10))
	}
	if contentType != "" {
		q.Set("contentType", contentType)
	}
	return fmt.Sprintf("%s?%s", base, q.Encode())
}
