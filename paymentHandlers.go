package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/qrpayment"
	"github.com/mmdatafocus/billing_backend/utils"
)

func applyPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.PaymentInput
		if !bindJSON(c, &input) {
			return
		}
		input.Source = models.PaymentSourceManual
		res, err := models.ApplyPayment(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, res)
	}
}

func listPaymentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payments, err := models.ListPayments(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payments": payments})
	}
}

func deletePaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := models.DeletePayment(c.Request.Context(), c.Param("id"), c.Param("paymentId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

// paymentQRHandler renders the SPAYD instruction for the outstanding balance.
// Query: format=png|jpeg|svg|txt (default png), width=N pixels.
func paymentQRHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		format, err := qrpayment.ParseFormat(c.Query("format"))
		if err != nil {
			respondError(c, utils.NewValidationError(err.Error()))
			return
		}
		width := 0
		if raw := c.Query("width"); raw != "" {
			width, err = strconv.Atoi(raw)
			if err != nil {
				respondError(c, utils.NewValidationErrorf("invalid width %q", raw))
				return
			}
		}

		descriptor, err := models.GetPaymentInstruction(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		payload, err := descriptor.SPAYD()
		if err != nil {
			respondError(c, err)
			return
		}
		body, err := qrpayment.Render(payload, format, width)
		if err != nil {
			respondError(c, utils.NewValidationError(err.Error()))
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, format.ContentType(), body)
	}
}
