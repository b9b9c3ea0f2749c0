package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/models"
)

func listRecurringTemplatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))
		templates, err := models.ListRecurringTemplates(c.Request.Context(), activeOnly)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"recurring_templates": templates})
	}
}

func createRecurringTemplateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewRecurringTemplate
		if !bindJSON(c, &input) {
			return
		}
		tpl, err := models.CreateRecurringTemplate(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, tpl)
	}
}

func getRecurringTemplateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tpl, err := models.GetRecurringTemplate(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tpl)
	}
}

func updateRecurringTemplateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewRecurringTemplate
		if !bindJSON(c, &input) {
			return
		}
		tpl, err := models.UpdateRecurringTemplate(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tpl)
	}
}

func deactivateRecurringTemplateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tpl, err := models.DeactivateRecurringTemplate(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tpl)
	}
}
