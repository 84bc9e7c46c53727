package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/auth"
	"github.com/vascoliveira2511/WatchLog/internal/models"
)

// TokenVerifier resolves a bearer token to a user id
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Auth rejects requests without a valid bearer token and stores the caller
// identity in the request context
func Auth(tokens TokenVerifier, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return models.ErrNotAuthenticated
		}

		userID, err := tokens.Verify(token)
		if err != nil {
			logger.WithError(err).WithField("path", c.Path()).Debug("Rejected bearer token")
			return err
		}

		c.SetUserContext(auth.WithUser(c.UserContext(), userID))
		return c.Next()
	}
}
