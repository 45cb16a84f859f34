// Package auth resolves bearer tokens to a trip principal.
package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Principal is the authenticated caller. Role is the trip-agnostic default;
// per-trip membership still decides edit rights.
type Principal struct {
	UserID string
	Role   string
}

// Verifier validates bearer tokens in one of three modes: dev accepts
// "userId:role" tokens verbatim, hmac verifies HS256 JWTs against a shared
// secret, jwks verifies RS256 JWTs against a cached JWKS document.
type Verifier struct {
	Mode       string
	HMACSecret []byte
	JWKSURL    string
	UserClaim  string
	RoleClaim  string

	http *http.Client

	mu        sync.RWMutex
	keys      []jsonWebKey
	fetchedAt time.Time
	keyTTL    time.Duration
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

func NewVerifierFromEnv() *Verifier {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:       mode,
		HMACSecret: []byte(os.Getenv("AUTH_HMAC_SECRET")),
		JWKSURL:    os.Getenv("AUTH_JWKS_URL"),
		UserClaim:  envOr("AUTH_USER_CLAIM", "sub"),
		RoleClaim:  envOr("AUTH_ROLE_CLAIM", "role"),
		http:       &http.Client{Timeout: 5 * time.Second},
		keyTTL:     10 * time.Minute,
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		userID, role, ok := strings.Cut(token, ":")
		if !ok {
			return Principal{}, errors.New("invalid dev token; expected userId:role")
		}
		return Principal{UserID: userID, Role: role}, nil
	}

	tok, err := splitCompact(token)
	if err != nil {
		return Principal{}, err
	}
	switch v.Mode {
	case "hmac":
		if tok.alg != "HS256" {
			return Principal{}, errors.New("unsupported alg for hmac")
		}
		mac := hmac.New(sha256.New, v.HMACSecret)
		mac.Write(tok.signingInput)
		if !hmac.Equal(mac.Sum(nil), tok.sig) {
			return Principal{}, errors.New("bad signature")
		}
	case "jwks":
		if tok.alg != "RS256" {
			return Principal{}, errors.New("unsupported alg for jwks")
		}
		pub, err := v.publicKey(tok.kid)
		if err != nil {
			return Principal{}, err
		}
		h := sha256.Sum256(tok.signingInput)
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], tok.sig); err != nil {
			return Principal{}, errors.New("bad signature")
		}
	default:
		return Principal{}, errors.New("unsupported auth mode")
	}

	userID, _ := tok.claims[v.UserClaim].(string)
	if userID == "" {
		return Principal{}, errors.New("missing user claim")
	}
	role, _ := tok.claims[v.RoleClaim].(string)
	if role == "" {
		role = "viewer"
	}
	return Principal{UserID: userID, Role: strings.ToLower(role)}, nil
}

type compactToken struct {
	alg          string
	kid          string
	claims       map[string]any
	sig          []byte
	signingInput []byte
}

func splitCompact(token string) (compactToken, error) {
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return compactToken{}, errors.New("invalid JWT")
	}
	var out compactToken
	headerJSON, err := base64.RawURLEncoding.DecodeString(segs[0])
	if err != nil {
		return compactToken{}, err
	}
	claimsJSON, err := base64.RawURLEncoding.DecodeString(segs[1])
	if err != nil {
		return compactToken{}, err
	}
	if out.sig, err = base64.RawURLEncoding.DecodeString(segs[2]); err != nil {
		return compactToken{}, err
	}
	var hdr struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return compactToken{}, err
	}
	if err := json.Unmarshal(claimsJSON, &out.claims); err != nil {
		return compactToken{}, err
	}
	out.alg = hdr.Alg
	out.kid = hdr.Kid
	out.signingInput = []byte(segs[0] + "." + segs[1])
	return out, nil
}

func (v *Verifier) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	keys := v.keys
	stale := time.Since(v.fetchedAt) > v.keyTTL
	v.mu.RUnlock()
	if len(keys) == 0 || stale {
		fetched, err := v.fetchKeys()
		if err != nil {
			return nil, err
		}
		keys = fetched
	}
	for _, k := range keys {
		if k.Kid != kid || !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, err
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, err
		}
		// exponent is big-endian, usually 3 or 65537
		e := 0
		for _, b := range eBytes {
			e = e<<8 | int(b)
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
	}
	return nil, errors.New("kid not found in JWKS")
}

func (v *Verifier) fetchKeys() ([]jsonWebKey, error) {
	if v.JWKSURL == "" {
		return nil, errors.New("AUTH_JWKS_URL not set")
	}
	resp, err := v.http.Get(v.JWKSURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.keys = doc.Keys
	v.fetchedAt = time.Now()
	v.mu.Unlock()
	return doc.Keys, nil
}
