package cmn

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims is the subset of a bearer token's payload the worker cares about:
// who it was issued to and when it expires. Grounded on authn/utils.go's
// Token struct and DecryptToken, adapted from a cluster-auth server's
// token format to a plain client-side bearer credential.
type Claims struct {
	Subject string    `json:"sub"`
	Expires time.Time `json:"exp"`
}

// ParseBearerToken validates tokenStr against secret using HMAC, mirroring
// authn/utils.go's DecryptToken method-check and expiry guard.
func ParseBearerToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, func(tk *jwt.Token) (interface{}, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tk.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, WrapError(KindInvalidParameter, err, "parse bearer token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, NewError(KindInvalidParameter, "bearer token failed validation")
	}
	sub, _ := claims["sub"].(string)
	c := &Claims{Subject: sub}
	if exp, ok := claims["exp"].(float64); ok {
		c.Expires = time.Unix(int64(exp), 0)
	}
	if !c.Expires.IsZero() && c.Expires.Before(time.Now()) {
		return nil, NewError(KindInvalidParameter, "bearer token expired at %s", c.Expires)
	}
	return c, nil
}

// AuthHeader returns the Authorization header value for the configured
// target bearer token, or "" when none is set (spec §6's --target-auth-token).
func AuthHeader() string {
	if tok := Cfg().TargetAuthToken; tok != "" {
		return "Bearer " + tok
	}
	return ""
}
