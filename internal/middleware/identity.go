package middleware

// identity.go stores and reads the authenticated account on the Echo
// context. "user_id" holds the hex id so the rate limiter and cache can key
// on it without knowing the account type.

import (
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/iliyamo/videotube-accounts/internal/model"
)

const (
	accountKey = "account"
	userIDKey  = "user_id"
)

func setAccount(c echo.Context, a model.Account) {
	c.Set(accountKey, a)
	c.Set(userIDKey, a.ID.Hex())
}

// CurrentAccount returns the account attached by VerifyJWT or OptionalJWT.
func CurrentAccount(c echo.Context) (model.Account, bool) {
	a, ok := c.Get(accountKey).(model.Account)
	return a, ok
}

// CurrentAccountID returns the id of the attached account, if any.
func CurrentAccountID(c echo.Context) (bson.ObjectID, bool) {
	a, ok := CurrentAccount(c)
	if !ok || a.ID.IsZero() {
		return bson.ObjectID{}, false
	}
	return a.ID, true
}

// currentUserID returns the hex account id or "anon".
func currentUserID(c echo.Context) string {
	if s, ok := c.Get(userIDKey).(string); ok && s != "" {
		return s
	}
	return "anon"
}
