package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
)

func listNumberSeriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var docType *models.DocumentType
		if raw := c.Query("document_type"); raw != "" {
			dt := models.DocumentType(raw)
			if !dt.IsValid() {
				respondError(c, utils.NewValidationErrorf("invalid document type %q", raw))
				return
			}
			docType = &dt
		}
		series, err := models.ListNumberSeries(c.Request.Context(), docType)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"number_series": series})
	}
}

func createNumberSeriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewNumberSeries
		if !bindJSON(c, &input) {
			return
		}
		series, err := models.CreateNumberSeries(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, series)
	}
}

func updateNumberSeriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewNumberSeries
		if !bindJSON(c, &input) {
			return
		}
		series, err := models.UpdateNumberSeries(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, series)
	}
}

func deleteNumberSeriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		series, err := models.DeleteNumberSeries(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, series)
	}
}

func createCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCustomer
		if !bindJSON(c, &input) {
			return
		}
		customer, err := models.CreateCustomer(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, customer)
	}
}

func getCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customer, err := models.GetCustomer(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, customer)
	}
}

func updateCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCustomer
		if !bindJSON(c, &input) {
			return
		}
		customer, err := models.UpdateCustomer(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, customer)
	}
}

func getBankSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := models.GetTenantBankSettings(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, settings)
	}
}

func upsertBankSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewTenantBankSettings
		if !bindJSON(c, &input) {
			return
		}
		settings, err := models.UpsertTenantBankSettings(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, settings)
	}
}
