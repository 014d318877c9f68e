package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/internal/service"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

// SessionReconciler re-runs order creation for one payment session
type SessionReconciler interface {
	ReconcileSession(ctx context.Context, sessionID string) (*domain.Order, service.WebhookOutcome, error)
}

type IssueResponse struct {
	ID               string                 `json:"id"`
	EventID          string                 `json:"event_id"`
	EventType        string                 `json:"event_type"`
	PaymentSessionID *string                `json:"payment_session_id,omitempty"`
	PaymentIntentID  *string                `json:"payment_intent_id,omitempty"`
	Reason           string                 `json:"reason"`
	Details          map[string]interface{} `json:"details,omitempty"`
	Status           domain.IssueStatus     `json:"status"`
	ResolutionNote   *string                `json:"resolution_note,omitempty"`
	Published        bool                   `json:"published"`
	ResolvedAt       *string                `json:"resolved_at,omitempty"`
	CreatedAt        string                 `json:"created_at"`
}

func toIssueResponse(issue *domain.ReconciliationIssue) IssueResponse {
	resp := IssueResponse{
		ID:               issue.ID.String(),
		EventID:          issue.EventID,
		EventType:        issue.EventType,
		PaymentSessionID: issue.PaymentSessionID,
		PaymentIntentID:  issue.PaymentIntentID,
		Reason:           issue.Reason,
		Details:          issue.Details,
		Status:           issue.Status,
		ResolutionNote:   issue.ResolutionNote,
		Published:        issue.PublishedAt != nil,
		CreatedAt:        issue.CreatedAt.Format(time.RFC3339),
	}
	if issue.ResolvedAt != nil {
		at := issue.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &at
	}
	return resp
}

// HandleListIssues handles GET /v1/admin/reconciliation-issues
func HandleListIssues(issues repository.ReconciliationIssueRepository, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := domain.IssueStatus(c.DefaultQuery("status", string(domain.IssueStatusOpen)))
		if status != domain.IssueStatusOpen && status != domain.IssueStatusResolved {
			writeError(c, logger, &errors.ErrValidation{
				Message: "validation failed",
				Fields:  map[string]string{"status": "must be open or resolved"},
			})
			return
		}
		limit := 50
		if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 200 {
			limit = l
		}

		list, err := issues.List(c.Request.Context(), status, limit)
		if err != nil {
			logger.Error("Failed to list reconciliation issues", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"issues": lo.Map(list, func(i *domain.ReconciliationIssue, _ int) IssueResponse {
			return toIssueResponse(i)
		})})
	}
}

type resolveIssueRequest struct {
	Note string `json:"note" binding:"required,max=2000"`
}

// HandleResolveIssue handles POST /v1/admin/reconciliation-issues/:id/resolve
func HandleResolveIssue(issues repository.ReconciliationIssueRepository, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid issue ID"})
			return
		}

		var req resolveIssueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeValidation(c, err)
			return
		}

		if err := issues.Resolve(c.Request.Context(), id, req.Note); err != nil {
			writeError(c, logger, err)
			return
		}

		issue, err := issues.GetByID(c.Request.Context(), id)
		if err != nil {
			writeError(c, logger, err)
			return
		}

		logger.Info("Reconciliation issue resolved", zap.String("issue_id", id.String()))
		c.JSON(http.StatusOK, toIssueResponse(issue))
	}
}

// HandleReconcileSession handles POST /v1/admin/sessions/:id/reconcile
func HandleReconcileSession(reconciler SessionReconciler, repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")

		order, outcome, err := reconciler.ReconcileSession(c.Request.Context(), sessionID)
		if err != nil {
			logger.Error("Replay of payment session failed", zap.String("session_id", sessionID), zap.Error(err))
			var recErr *errors.ErrReconciliation
			if stderrors.As(err, &recErr) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error":  "session cannot be reconciled",
					"reason": recErr.Reason,
				})
				return
			}
			writeError(c, logger, err)
			return
		}

		items, err := repos.OrderItem.GetByOrderID(c.Request.Context(), order.ID)
		if err != nil {
			logger.Error("Failed to get order items", zap.String("order_id", order.ID.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		status := http.StatusOK
		if outcome == service.OutcomeOrderCreated {
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{
			"outcome": outcome,
			"order":   toOrderResponse(order, items),
		})
	}
}
