package broker

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// ErrInvalidCredentials is returned by authenticate when a CONNECT's username/password does not
// check out against the broker's signing key.
var ErrInvalidCredentials = errors.New("invalid credentials")

// credentialClaims binds a CONNECT's client ID and user name into the password field, so that a
// stolen token cannot be replayed under a different identity.
type credentialClaims struct {
	ClientID string `json:"clientId"`
	UserName string `json:"userName"`
	jwt.StandardClaims
}

// IssueToken signs a short-lived HS256 token for clientID/userName with signingKey. Device
// applications (camera, dron, monitor) call this once, out of band, and present the result as
// the CONNECT password.
func IssueToken(signingKey []byte, clientID, userName string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := credentialClaims{
		ClientID: clientID,
		UserName: userName,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}

// authenticate checks that tokenString is a well-formed, unexpired HS256 token signed with
// signingKey and that its claims bind the given clientID and userName. Used both for the initial
// CONNECT credential check and, on reattachment, to confirm the reconnecting client really is who
// it claims to be before its session (subscriptions, pending queue, in-flight state) is handed
// over to a new connection.
func authenticate(signingKey []byte, clientID, userName, tokenString string) error {
	if len(signingKey) == 0 {
		return nil // broker configured with no password: authentication disabled
	}
	claims := &credentialClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidCredentials
	}
	if claims.ClientID != clientID || claims.UserName != userName {
		return ErrInvalidCredentials
	}
	return nil
}
