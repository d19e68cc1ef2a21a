package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultUserID uint = 1

// currentUser resolves the acting user from the X-User-ID header, falling
// back to the default single-tenant user.
func currentUser(c *gin.Context) uint {
	header := c.GetHeader("X-User-ID")
	if header == "" {
		return defaultUserID
	}
	id, err := strconv.ParseUint(header, 10, 64)
	if err != nil || id == 0 {
		return defaultUserID
	}
	return uint(id)
}
