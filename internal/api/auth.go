package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// Request signing headers.
const (
	HeaderAuthority = "X-Authority"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
	HeaderNonce     = "X-Nonce"
	HeaderRequestID = "X-Request-ID"
)

const (
	maxBodyBytes = 1 << 20
	maxNonceLen  = 64
)

var errUnauthenticated = errors.New("unauthenticated")

type authorityKey struct{}

// SigningMessage is the byte string an authority signs for a request:
// METHOD \n PATH \n TIMESTAMP \n NONCE \n hex(sha256(body)).
func SigningMessage(method, path string, timestamp int64, nonce string, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(fmt.Sprintf("%s\n%s\n%d\n%s\n%s", method, path, timestamp, nonce, hex.EncodeToString(sum[:])))
}

// SignRequest sets the signing headers on req for body using account. Each call
// draws a fresh nonce, so identical requests carry distinct signatures.
func SignRequest(req *http.Request, account types.Account, timestamp int64, body []byte) {
	nonce := uuid.NewString()
	sig := account.Sign(SigningMessage(req.Method, req.URL.Path, timestamp, nonce, body))
	req.Header.Set(HeaderAuthority, account.PublicKey.ToBase58())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, base58.Encode(sig))
}

// AuthorityFromContext returns the authenticated authority of a request.
func AuthorityFromContext(ctx context.Context) (string, bool) {
	a, ok := ctx.Value(authorityKey{}).(string)
	return a, ok
}

// verifyRequest checks the signing headers of r and returns the authority and body.
func verifyRequest(r *http.Request, now time.Time, skew time.Duration) (string, []byte, error) {
	authority := r.Header.Get(HeaderAuthority)
	tsRaw := r.Header.Get(HeaderTimestamp)
	nonce := r.Header.Get(HeaderNonce)
	sigRaw := r.Header.Get(HeaderSignature)
	if authority == "" || tsRaw == "" || nonce == "" || sigRaw == "" {
		return "", nil, fmt.Errorf("%w: missing signature headers", errUnauthenticated)
	}
	if len(nonce) > maxNonceLen {
		return "", nil, fmt.Errorf("%w: nonce too long", errUnauthenticated)
	}

	pub, err := base58.Decode(authority)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return "", nil, fmt.Errorf("%w: malformed authority", errUnauthenticated)
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return "", nil, fmt.Errorf("%w: malformed timestamp", errUnauthenticated)
	}
	if d := now.Sub(time.Unix(ts, 0)); d > skew || d < -skew {
		return "", nil, fmt.Errorf("%w: timestamp outside allowed window", errUnauthenticated)
	}

	sig, err := base58.Decode(sigRaw)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return "", nil, fmt.Errorf("%w: malformed signature", errUnauthenticated)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read body: %w", err)
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), SigningMessage(r.Method, r.URL.Path, ts, nonce, body), sig) {
		return "", nil, fmt.Errorf("%w: signature verification failed", errUnauthenticated)
	}
	return authority, body, nil
}

// authenticate verifies signed requests and stores the authority in the context.
// A signature is accepted once.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		now := s.now()
		authority, body, err := verifyRequest(r, now, s.clockSkew)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !s.replays.claim(r.Header.Get(HeaderSignature), now) {
			s.logger.WithField("authority", authority).Warn("replayed request rejected")
			s.writeError(w, r, fmt.Errorf("%w: signature already used", errUnauthenticated))
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), authorityKey{}, authority)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
