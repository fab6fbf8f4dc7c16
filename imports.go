package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hostfolio/propops_backend/config"
	"github.com/hostfolio/propops_backend/models"
	"github.com/hostfolio/propops_backend/utils"
	"github.com/hostfolio/propops_backend/workflow"
	"github.com/sirupsen/logrus"
)

// importScheduleHandler accepts a cleaning-schedule .xlsx upload and runs one
// reconciliation pass over it.
func importScheduleHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		businessId, _ := utils.GetBusinessIdFromContext(ctx)
		release, err := workflow.AcquireImportLock(ctx, businessId)
		if err != nil {
			if errors.Is(err, workflow.ErrorImportInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			config.LogError(logger, "imports.go", "importScheduleHandler", "acquiring import lock", businessId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not acquire import lock"})
			return
		}
		defer release()

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not open uploaded file"})
			return
		}
		defer file.Close()

		rows, err := workflow.ReadScheduleRows(file)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		summary, err := workflow.RunBookingImport(ctx, &workflow.ImportInput{
			FileName: fileHeader.Filename,
			Rows:     rows,
		})
		if err != nil {
			if errors.Is(err, utils.ErrorPropertyApprovalRequired) {
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "requires_approval": true})
				return
			}
			config.LogError(logger, "imports.go", "importScheduleHandler", "running import", fileHeader.Filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

func getImportSessionHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}

		session, err := models.GetImportSession(ctx, id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "import session not found"})
				return
			}
			config.LogError(logger, "imports.go", "getImportSessionHandler", "fetching session", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		conflicts, err := session.ExtractConflicts()
		if err != nil {
			config.LogError(logger, "imports.go", "getImportSessionHandler", "parsing conflict block", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"session":   session,
			"conflicts": conflicts,
			"log_lines": session.PlainLogLines(),
		})
	}
}

type resolutionRequest struct {
	Decisions []workflow.ResolutionDecision `json:"decisions" binding:"required,dive"`
}

func resolveConflictsHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}

		var req resolutionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := workflow.ResolveImportConflicts(ctx, id, req.Decisions)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "import session not found"})
				return
			}
			config.LogError(logger, "imports.go", "resolveConflictsHandler", "applying decisions", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func listBookingsHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		propertyId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid property id"})
			return
		}

		bookings, err := models.ListPropertyBookings(ctx, propertyId)
		if err != nil {
			config.LogError(logger, "imports.go", "listBookingsHandler", "listing bookings", propertyId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"bookings": bookings})
	}
}
