package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/credstack/credstack/api/errors"
	"github.com/credstack/credstack/interfaces"
	"github.com/credstack/credstack/internal/utils"
)

type GrantHandler struct {
	access interfaces.AccessController
}

func NewGrantHandler(access interfaces.AccessController) *GrantHandler {
	return &GrantHandler{access: access}
}

type shareRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// Share grants another user read access to an account the caller owns.
// Grants are flat; a grantee cannot share further.
func (h *GrantHandler) Share() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)
		accountID := c.Param("id")

		var req shareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := h.access.Share(ctx, callerID, accountID, req.UserID); err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"status": "access granted", "accountId": accountID, "userId": req.UserID})
	}
}

// Revoke removes a previously granted access
func (h *GrantHandler) Revoke() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)
		accountID := c.Param("id")
		granteeID := c.Param("userId")

		if err := h.access.Revoke(ctx, callerID, accountID, granteeID); err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "access revoked", "accountId": accountID, "userId": granteeID})
	}
}

// List returns user ids with access to an account the caller owns
func (h *GrantHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)
		accountID := c.Param("id")

		allowed, err := h.access.CanRead(ctx, callerID, accountID)
		if err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}
		if !allowed {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}

		grantees, err := h.access.GranteesFor(ctx, accountID)
		if err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusOK, gin.H{"accountId": accountID, "userIds": grantees})
	}
}
