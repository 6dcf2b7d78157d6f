package http

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/infrastructure/config"
	"github.com/matdev83/llm-interactive-proxy-sub007/internal/interfaces/http/handlers"
	proxyerrors "github.com/matdev83/llm-interactive-proxy-sub007/pkg/errors"
)

// authMiddleware checks the client credential against the configured keys.
// Both `Authorization: Bearer <key>` and the Gemini-style `x-goog-api-key`
// header are accepted on every route, so Gemini clients work unchanged.
func authMiddleware(cfg config.AuthConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.DisableAuth {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.GetHeader("x-goog-api-key")
		}
		if token == "" {
			token = c.Query("key")
		}

		if token == "" || !keyMatches(cfg.APIKeys, token) {
			logger.Warn("Rejected unauthenticated request",
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()),
			)
			status, body := handlers.ErrorEnvelope(proxyerrors.NewAuthenticationError("invalid or missing API key"))
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func keyMatches(keys []string, token string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(token)) == 1 {
			return true
		}
	}
	return false
}
