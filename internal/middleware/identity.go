package middleware

// identity.go holds the context keys JWTAuth fills in and the helpers
// handlers use to read them back.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

// Roles carried in the token's role claim.
const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)

// UserID returns the authenticated identity, or "" for anonymous requests.
func UserID(c echo.Context) string {
	switch v := c.Get(CtxUserID).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}

// Role returns the role claim of the authenticated identity.
func Role(c echo.Context) string {
	r, _ := c.Get(CtxRole).(string)
	return r
}

// currentUserID is UserID with a placeholder for anonymous callers, used to
// build rate limit keys.
func currentUserID(c echo.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	return "anon"
}
