package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/credstack/credstack/api/errors"
	"github.com/credstack/credstack/interfaces"
	"github.com/credstack/credstack/internal/utils"
)

type AccountHandler struct {
	store  interfaces.CredentialStore
	access interfaces.AccessController
}

func NewAccountHandler(store interfaces.CredentialStore, access interfaces.AccessController) *AccountHandler {
	return &AccountHandler{store: store, access: access}
}

type createAccountRequest struct {
	Tag             string  `json:"tag" binding:"required"`
	ServiceEmail    string  `json:"serviceEmail" binding:"required"`
	Secret          string  `json:"secret" binding:"required"`
	LinkedMailboxID *string `json:"linkedMailboxId"`
}

type updateAccountRequest struct {
	Tag             *string `json:"tag"`
	ServiceEmail    *string `json:"serviceEmail"`
	Secret          *string `json:"secret"`
	LinkedMailboxID *string `json:"linkedMailboxId"`
}

// Create vaults a new credential set for the caller
func (h *AccountHandler) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)

		var req createAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		account, err := h.store.Create(ctx, interfaces.AccountCreate{
			OwnerID:         callerID,
			Tag:             req.Tag,
			ServiceEmail:    req.ServiceEmail,
			Secret:          req.Secret,
			LinkedMailboxID: req.LinkedMailboxID,
		})
		if err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusCreated, account)
	}
}

// List returns the metadata of the caller's own accounts
func (h *AccountHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)

		accounts, err := h.store.ListByOwner(ctx, callerID)
		if err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusOK, accounts)
	}
}

// Get returns the metadata of one account. Unauthorized callers get the
// same 404 as a missing account so ids cannot be probed.
func (h *AccountHandler) Get() gin.HandlerFunc {
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

		account, err := h.store.Get(ctx, accountID)
		if err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusOK, account)
	}
}

// Reveal returns the decrypted credential fields, including the current
// code while it is valid
func (h *AccountHandler) Reveal() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)
		accountID := c.Param("id")

		revealed, err := h.store.Reveal(ctx, callerID, accountID)
		if err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusOK, revealed)
	}
}

// Otp returns only the current code for an account
func (h *AccountHandler) Otp() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)
		accountID := c.Param("id")

		revealed, err := h.store.Reveal(ctx, callerID, accountID)
		if err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		if revealed.Otp == nil {
			c.JSON(http.StatusOK, gin.H{"otp": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"otp": *revealed.Otp, "expiresAt": revealed.OtpExpiresAt})
	}
}

// Update applies a partial change to an account the caller owns
func (h *AccountHandler) Update() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)
		accountID := c.Param("id")

		var req updateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		account, err := h.store.Update(ctx, callerID, accountID, interfaces.AccountUpdate{
			Tag:             req.Tag,
			ServiceEmail:    req.ServiceEmail,
			Secret:          req.Secret,
			LinkedMailboxID: req.LinkedMailboxID,
		})
		if err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusOK, account)
	}
}

// Delete removes an account the caller owns
func (h *AccountHandler) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)
		accountID := c.Param("id")

		if err := h.store.Delete(ctx, callerID, accountID); err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "account deleted", "id": accountID})
	}
}
