// signer.go - AWS Signature Version 4 request signing.

// Package sigv4 signs and sends object uploads with AWS Signature Version 4,
// so an uploader holding long-lived keys can write straight to an
// S3-compatible store.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	Algorithm      = "AWS4-HMAC-SHA256"
	DefaultRegion  = "auto"
	DefaultService = "s3"

	amzDateFormat = "20060102T150405Z"
	dateFormat    = "20060102"
	terminator    = "aws4_request"
)

type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Signer holds credentials and scope. It has no mutable state and is safe
// for concurrent use.
type Signer struct {
	Credentials Credentials
	Region      string
	Service     string
}

// NewSigner returns a signer for region "auto" and service "s3".
func NewSigner(creds Credentials) *Signer {
	return &Signer{Credentials: creds, Region: DefaultRegion, Service: DefaultService}
}

// Request is everything that goes into a PUT signature. Path is the
// unescaped /bucket/key path.
type Request struct {
	Method        string
	Host          string
	Path          string
	ContentType   string
	ContentLength int64
	PayloadHash   string
	Time          time.Time
	// Meta becomes x-amz-meta-<key> headers; keys must be lower case.
	Meta map[string]string
}

// Result carries every intermediate string so tests and debugging can see
// exactly what was signed.
type Result struct {
	AmzDate          string
	Scope            string
	CanonicalRequest string
	StringToSign     string
	SignedHeaders    string
	Signature        string
	Authorization    string
	// Header holds the headers to send besides Host and Content-Length,
	// which net/http writes from the request fields.
	Header http.Header
}

type header struct{ name, value string }

// HashPayload returns the lower-case hex SHA-256 of body.
func HashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign computes the signature for req.
func (s *Signer) Sign(req Request) Result {
	t := req.Time.UTC()
	amzDate := t.Format(amzDateFormat)
	date := t.Format(dateFormat)
	scope := date + "/" + s.Region + "/" + s.Service + "/" + terminator

	headers := []header{
		{"content-length", strconv.FormatInt(req.ContentLength, 10)},
		{"content-type", req.ContentType},
		{"host", req.Host},
		{"x-amz-content-sha256", req.PayloadHash},
		{"x-amz-date", amzDate},
	}
	// Every x-amz-* header must be signed; meta headers sort after x-amz-date.
	metaKeys := make([]string, 0, len(req.Meta))
	for k := range req.Meta {
		metaKeys = append(metaKeys, k)
	}
	sort.Strings(metaKeys)
	for _, k := range metaKeys {
		headers = append(headers, header{"x-amz-meta-" + strings.ToLower(k), canonicalValue(req.Meta[k])})
	}

	var canonHeaders strings.Builder
	names := make([]string, len(headers))
	for i, h := range headers {
		canonHeaders.WriteString(h.name)
		canonHeaders.WriteByte(':')
		canonHeaders.WriteString(h.value)
		canonHeaders.WriteByte('\n')
		names[i] = h.name
	}
	signedHeaders := strings.Join(names, ";")

	canonicalRequest := strings.Join([]string{
		req.Method,
		EscapePath(req.Path),
		"", // no query string
		canonHeaders.String(),
		signedHeaders,
		req.PayloadHash,
	}, "\n")

	stringToSign := strings.Join([]string{
		Algorithm,
		amzDate,
		scope,
		hashHex(canonicalRequest),
	}, "\n")

	signature := hex.EncodeToString(hmacSHA256(s.SigningKey(date), stringToSign))
	authorization := Algorithm + " Credential=" + s.Credentials.AccessKeyID + "/" + scope +
		", SignedHeaders=" + signedHeaders + ", Signature=" + signature

	h := make(http.Header)
	h.Set("Content-Type", req.ContentType)
	h.Set("X-Amz-Date", amzDate)
	h.Set("X-Amz-Content-Sha256", req.PayloadHash)
	h.Set("Authorization", authorization)
	for _, k := range metaKeys {
		h.Set("X-Amz-Meta-"+k, canonicalValue(req.Meta[k]))
	}

	return Result{
		AmzDate:          amzDate,
		Scope:            scope,
		CanonicalRequest: canonicalRequest,
		StringToSign:     stringToSign,
		SignedHeaders:    signedHeaders,
		Signature:        signature,
		Authorization:    authorization,
		Header:           h,
	}
}

// SigningKey derives the per-day key: HMAC chain over date, region, service
// and the terminator, seeded with "AWS4"+secret.
func (s *Signer) SigningKey(date string) []byte {
	k := hmacSHA256([]byte("AWS4"+s.Credentials.SecretAccessKey), date)
	k = hmacSHA256(k, s.Region)
	k = hmacSHA256(k, s.Service)
	return hmacSHA256(k, terminator)
}

// EscapePath URI-encodes each path segment, leaving RFC 3986 unreserved
// characters and the separators alone.
func EscapePath(p string) string {
	if p == "" {
		return "/"
	}
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' || unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte("0123456789ABCDEF"[c>>4])
		b.WriteByte("0123456789ABCDEF"[c&0x0f])
	}
	return b.String()
}

func unreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// canonicalValue trims and collapses runs of spaces.
func canonicalValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

func hmacSHA256(key []byte, data string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(data))
	return m.Sum(nil)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
