// Package middleware holds the Echo middleware shared by the account routes:
// the auth gate, request logging, rate limiting and response caching.
package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/videotube-accounts/internal/apperr"
	"github.com/iliyamo/videotube-accounts/internal/model"
)

// AccessTokenCookie is the cookie carrying the access token.
const AccessTokenCookie = "accessToken"

// Authenticator resolves an access token to the account it names.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (model.Account, error)
}

// VerifyJWT rejects requests without a valid access token. The token is read
// from the accessToken cookie, falling back to an Authorization: Bearer
// header. On success the sanitized account is available via CurrentAccount.
func VerifyJWT(auth Authenticator, timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := accessToken(c)
			if raw == "" {
				return apperr.Auth("Unauthorized request")
			}
			a, err := authenticate(c, auth, raw, timeout)
			if err != nil {
				return err
			}
			setAccount(c, a)
			return next(c)
		}
	}
}

// OptionalJWT attaches the account when a valid access token is present and
// otherwise lets the request through anonymously. Store failures are still
// reported.
func OptionalJWT(auth Authenticator, timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := accessToken(c)
			if raw == "" {
				return next(c)
			}
			a, err := authenticate(c, auth, raw, timeout)
			if err != nil {
				if apperr.Is(err, apperr.KindAuth) {
					return next(c)
				}
				return err
			}
			setAccount(c, a)
			return next(c)
		}
	}
}

func authenticate(c echo.Context, auth Authenticator, raw string, timeout time.Duration) (model.Account, error) {
	ctx := c.Request().Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	a, err := auth.Authenticate(ctx, raw)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return model.Account{}, ae
		}
		return model.Account{}, apperr.Internal("Something went wrong", err)
	}
	return a, nil
}

func accessToken(c echo.Context) string {
	if ck, err := c.Cookie(AccessTokenCookie); err == nil && strings.TrimSpace(ck.Value) != "" {
		return strings.TrimSpace(ck.Value)
	}
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
