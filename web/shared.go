package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// writeError maps err onto a status code and a JSON error body.
func writeError(c *gin.Context, err error) {
	var brokerErr *custom_errors.BrokerError
	switch {
	case custom_errors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, custom_errors.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case custom_errors.IsAlreadyExists(err):
		c.JSON(http.StatusConflict, gin.H{"error": "username already registered"})
	case custom_errors.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &brokerErr):
		logger(c).Errorf("enqueue failed: %v", err)
		body := gin.H{"error": "job could not be queued, retry later"}
		if brokerErr.JobID > 0 {
			body["job_id"] = brokerErr.JobID
		}
		c.JSON(http.StatusServiceUnavailable, body)
	default:
		logger(c).Errorf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func logger(c *gin.Context) *log.Entry {
	return log.WithFields(log.Fields{
		requestIDKey: c.GetString(requestIDKey),
		"path":       c.FullPath(),
	})
}

func printBanner(addr string) {
	width := 46
	fmt.Println("##############################################")
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Printf("# %-*s #\n", width-4, "csvimport started")
	fmt.Printf("# %-*s #\n", width-4, fmt.Sprintf("HTTP API running on %s", addr))
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Println("##############################################")
}
