package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
)

// respondError maps a billing error to its HTTP status and stable code. Anything the
// taxonomy does not know is a 500 and is logged; the message is not echoed.
func respondError(c *gin.Context, err error) {
	status := utils.HTTPStatusOf(err)
	code := utils.ErrorCodeOf(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(config.GetLogger(), "handlers.go", "respondError", c.FullPath(), cid, err)
		c.JSON(status, gin.H{"error": gin.H{"code": code, "message": "internal error"}})
		return
	}
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": err.Error()}})
}

// bindJSON decodes the request body; a malformed body is a validation error.
func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		respondError(c, utils.NewValidationError("invalid request body: "+err.Error()))
		return false
	}
	return true
}
