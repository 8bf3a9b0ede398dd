package auth

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	HeaderSigner    = "X-Signer-Address"
	HeaderTimestamp = "X-Request-Timestamp"
	HeaderSignature = "X-Request-Signature"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSigner    = errors.New("invalid signer address")
	ErrInvalidSignature = errors.New("invalid request signature")
)

// Mode selects how the verifier establishes the principal.
type Mode string

const (
	// ModeSignature requires a secp256k1 signature from the signer address.
	ModeSignature Mode = "signature"
	// ModeHeader trusts the signer header as-is. Local development only.
	ModeHeader Mode = "header"
)

// Verifier authenticates requests that carry an X-Signer-Address header and
// attaches the signer as the request principal. Requests without the header
// pass through anonymously.
type Verifier struct {
	Mode    Mode
	MaxSkew time.Duration
	Now     func() time.Time
	// OnReject, if set, writes the response for a rejected request.
	OnReject func(w http.ResponseWriter, err error)
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signer, err := v.verify(r)
		if err != nil {
			if v.OnReject != nil {
				v.OnReject(w, err)
			} else {
				http.Error(w, err.Error(), http.StatusUnauthorized)
			}
			return
		}
		if signer != nil {
			r = r.WithContext(WithPrincipal(r.Context(), *signer))
		}
		next.ServeHTTP(w, r)
	})
}

func (v *Verifier) verify(r *http.Request) (*common.Address, error) {
	signerHeader := r.Header.Get(HeaderSigner)
	if signerHeader == "" {
		return nil, nil
	}
	if !common.IsHexAddress(signerHeader) {
		return nil, ErrInvalidSigner
	}
	signer := common.HexToAddress(signerHeader)
	if v.Mode == ModeHeader {
		return &signer, nil
	}

	sigHeader := r.Header.Get(HeaderSignature)
	if sigHeader == "" {
		return nil, ErrMissingSignature
	}
	tsHeader := r.Header.Get(HeaderTimestamp)
	if tsHeader == "" {
		return nil, ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return nil, ErrMissingTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > v.MaxSkew || reqTime.Sub(now) > v.MaxSkew {
		return nil, ErrStaleTimestamp
	}

	body, err := readBody(r)
	if err != nil {
		return nil, err
	}

	sig, err := hexutil.Decode(sigHeader)
	if err != nil || len(sig) != crypto.SignatureLength {
		return nil, ErrInvalidSignature
	}
	// Wallets emit V as 27/28; SigToPub expects 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(signingHash(r.Method, r.URL.RequestURI(), tsHeader, body), sig)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if crypto.PubkeyToAddress(*pub) != signer {
		return nil, ErrInvalidSignature
	}
	return &signer, nil
}

// SignRequest signs r with key using the scheme Verifier checks. The body,
// if any, is read and replaced.
func SignRequest(r *http.Request, key *ecdsa.PrivateKey, now time.Time) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	sig, err := crypto.Sign(signingHash(r.Method, r.URL.RequestURI(), ts, body), key)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	r.Header.Set(HeaderSigner, crypto.PubkeyToAddress(key.PublicKey).Hex())
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderSignature, hexutil.Encode(sig))
	return nil
}

// signingHash is the EIP-191 personal-message hash of
// "METHOD\nURI\nTIMESTAMP\nhex(sha256(body))".
func signingHash(method, uri, timestamp string, body []byte) []byte {
	sum := sha256.Sum256(body)
	msg := method + "\n" + uri + "\n" + timestamp + "\n" + hex.EncodeToString(sum[:])
	return accounts.TextHash([]byte(msg))
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
