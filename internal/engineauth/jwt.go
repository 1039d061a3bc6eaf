package engineauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Secret is a 32-byte Engine API JWT secret, per
// https://github.com/ethereum/execution-apis/blob/main/src/engine/authentication.md.
// No example repo imports a JWT library, so token construction is
// built directly on stdlib crypto/hmac + encoding/base64 rather than
// pulling in an unrelated library for one five-line primitive.
type Secret [32]byte

// ParseSecretHex decodes a hex-encoded (optionally "0x"-prefixed)
// 32-byte JWT secret, the format every Engine API implementation
// writes its jwt.hex file in.
func ParseSecretHex(s string) (Secret, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Secret{}, fmt.Errorf("engineauth: parse jwt secret: %w", err)
	}
	if len(raw) != 32 {
		return Secret{}, fmt.Errorf("engineauth: jwt secret must be 32 bytes, got %d", len(raw))
	}
	var out Secret
	copy(out[:], raw)
	return out, nil
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type jwtClaims struct {
	IAT int64 `json:"iat"`
}

// Token returns a freshly-signed HS256 bearer token with an `iat`
// claim of now, per the Engine API auth spec's requirement that iat
// be within +/-5s of the server's clock. Callers mint one per call
// rather than caching, since the validity window is that tight.
func Token(secret Secret) (string, error) {
	header, err := json.Marshal(jwtHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	claims, err := json.Marshal(jwtClaims{IAT: time.Now().Unix()})
	if err != nil {
		return "", err
	}

	signingInput := b64url(header) + "." + b64url(claims)
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(signingInput))
	sig := mac.Sum(nil)

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func b64url(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
