package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
)

func listNotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tenantId, err := utils.RequireTenantId(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		if _, err := models.GetInvoice(ctx, c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		rows, err := models.ListNotifications(ctx, tenantId, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": rows})
	}
}

// outboxReplayHandler puts a FAILED or DEAD notification of the caller's tenant back in the queue.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tenantId, err := utils.RequireTenantId(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		recordId, err := strconv.Atoi(c.Param("recordId"))
		if err != nil || recordId <= 0 {
			respondError(c, utils.NewValidationError("record id must be a positive integer"))
			return
		}
		if err := models.ReplayNotification(ctx, tenantId, recordId); err != nil {
			respondError(c, err)
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		c.JSON(http.StatusOK, gin.H{
			"tenant_id":      tenantId,
			"record_id":      recordId,
			"publish_status": models.OutboxPublishStatusFailed,
			"correlation_id": cid,
		})
	}
}
