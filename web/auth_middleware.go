package web

import (
	"net/http"

	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	userIDKey    = "user_id"
	requestIDKey = "request_id"
)

// authMiddleware checks HTTP basic credentials against the user store and
// stores the user id in the context.
func authMiddleware(users store.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="csvimport"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "credentials required"})
			return
		}

		user, err := users.Authenticate(c.Request.Context(), username, password)
		if err != nil {
			log.WithField(requestIDKey, c.GetString(requestIDKey)).Errorf("auth lookup failed: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if user == nil {
			c.Header("WWW-Authenticate", `Basic realm="csvimport"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		c.Set(userIDKey, user.ID)
		c.Next()
	}
}

// requestIDMiddleware reuses an incoming X-Request-ID or generates one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
