package server

import (
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/knowd-ai/knowd/pkg/apperr"
)

// SessionCookie carries the signed session issued by the external auth
// collaborator.
const SessionCookie = "knowd_session"

const sessionContextKey = "knowd.session"

// Session is the authenticated caller.
type Session struct {
	UserID int64
	OrgID  int64
	Admin  bool
}

type sessionClaims struct {
	OrgID int64 `json:"org_id"`
	Admin bool  `json:"admin"`
	jwt.RegisteredClaims
}

// requireSession validates the session cookie and stores the caller on the
// request context. Missing or invalid sessions are 401, not 403: the caller
// is unknown, not merely unauthorized.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			return s.respondError(c, apperr.New(apperr.Unauthenticated, "missing session"))
		}

		claims := &sessionClaims{}
		token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, apperr.New(apperr.Unauthenticated, "unexpected signing method %v", t.Header["alg"])
			}
			return s.deps.SessionSecret, nil
		})
		if err != nil || !token.Valid {
			return s.respondError(c, apperr.New(apperr.Unauthenticated, "invalid session"))
		}

		userID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || userID <= 0 || claims.OrgID <= 0 {
			return s.respondError(c, apperr.New(apperr.Unauthenticated, "invalid session"))
		}

		c.Set(sessionContextKey, &Session{
			UserID: userID,
			OrgID:  claims.OrgID,
			Admin:  claims.Admin,
		})
		return next(c)
	}
}

func session(c echo.Context) *Session {
	sess, _ := c.Get(sessionContextKey).(*Session)
	return sess
}

// resolveOrg returns the tenant for the request. A requested org other than
// the session's is a cross-tenant access attempt; zero means "mine".
func resolveOrg(c echo.Context, requested int64) (int64, error) {
	sess := session(c)
	if requested == 0 {
		return sess.OrgID, nil
	}
	if requested != sess.OrgID {
		return 0, apperr.New(apperr.Authorization, "access denied")
	}
	return requested, nil
}
