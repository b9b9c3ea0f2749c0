package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
)

func createInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewInvoice
		if !bindJSON(c, &input) {
			return
		}
		inv, err := models.CreateInvoice(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, inv)
	}
}

func listInvoicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.InvoiceFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			respondError(c, utils.NewValidationError("invalid query: "+err.Error()))
			return
		}
		if filter.Status != nil {
			status, err := models.ParseInvoiceStatus(string(*filter.Status))
			if err != nil {
				respondError(c, utils.NewValidationError(err.Error()))
				return
			}
			filter.Status = &status
		}
		conn, err := models.ListInvoices(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func getInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := models.GetInvoice(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

func updateInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewInvoice
		if !bindJSON(c, &input) {
			return
		}
		inv, err := models.UpdateInvoice(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

func deleteInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := models.DeleteInvoice(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

// invoiceActionHandler runs one lifecycle command (PATCH body {"action": ...}).
func invoiceActionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.InvoiceActionInput
		if !bindJSON(c, &input) {
			return
		}
		cmd, err := models.ParseInvoiceCommand(input)
		if err != nil {
			respondError(c, err)
			return
		}
		res, err := models.ExecuteInvoiceCommand(c.Request.Context(), c.Param("id"), cmd)
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusOK
		if res.Created != nil {
			status = http.StatusCreated
		}
		c.JSON(status, res)
	}
}

func bulkInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.BulkInvoiceInput
		if !bindJSON(c, &input) {
			return
		}
		res, err := models.RunBulkInvoiceAction(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
