// Package httpx holds the small helpers the gin handlers share.
package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/apperr"
)

// WriteError answers with the status mapped from err's kind. Challenge
// errors are flagged so clients can prompt for manual intervention.
func WriteError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	body := gin.H{"error": err.Error(), "kind": kind}
	if kind == apperr.KindChallenge {
		body["retry"] = "manual"
	}
	c.JSON(apperr.HTTPStatus(err), body)
}

func ParseInt(s string, def int) int {
	if strings.TrimSpace(s) == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Page reads the 1-indexed ?page= parameter.
func Page(c *gin.Context) int {
	if p := ParseInt(c.Query("page"), 1); p > 0 {
		return p
	}
	return 1
}

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
