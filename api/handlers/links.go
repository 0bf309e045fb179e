package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/credstack/credstack/api/errors"
	"github.com/credstack/credstack/interfaces"
	"github.com/credstack/credstack/internal/enum"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/utils"
)

type LinkHandler struct {
	registry interfaces.MailboxLinkRegistry
}

func NewLinkHandler(registry interfaces.MailboxLinkRegistry) *LinkHandler {
	return &LinkHandler{registry: registry}
}

type linkMailboxRequest struct {
	MailboxAddress   string `json:"mailboxAddress" binding:"required"`
	CredentialHandle string `json:"credentialHandle" binding:"required"`
	ImapServer       string `json:"imapServer" binding:"required"`
	ImapPort         int    `json:"imapPort" binding:"required"`
	ImapUsername     string `json:"imapUsername" binding:"required"`
	ImapTLS          bool   `json:"imapTls"`
}

// Link registers a mailbox whose consent flow completed out of band
func (h *LinkHandler) Link() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)

		var req linkMailboxRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		link, err := h.registry.Link(ctx, &models.MailboxLink{
			OwnerID:          callerID,
			MailboxAddress:   req.MailboxAddress,
			CredentialHandle: req.CredentialHandle,
			ImapServer:       req.ImapServer,
			ImapPort:         req.ImapPort,
			ImapUsername:     req.ImapUsername,
			ImapTLS:          req.ImapTLS,
		})
		if err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusCreated, link)
	}
}

// List returns the caller's mailbox links, active or not
func (h *LinkHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)

		links, err := h.registry.ListByOwner(ctx, callerID)
		if err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusOK, links)
	}
}

// Deactivate stops polling a link without deleting it
func (h *LinkHandler) Deactivate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)
		linkID := c.Param("id")

		link, err := h.registry.GetLink(ctx, linkID)
		if err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}
		if link.OwnerID != callerID {
			c.JSON(http.StatusNotFound, gin.H{"error": "mailbox link not found"})
			return
		}

		if err := h.registry.Deactivate(ctx, linkID, enum.LinkDeactivatedByOwner); err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "mailbox link deactivated", "id": linkID})
	}
}

// Unlink removes a mailbox link entirely
func (h *LinkHandler) Unlink() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		callerID := utils.GetUserIdFromContext(ctx)
		linkID := c.Param("id")

		if err := h.registry.Unlink(ctx, callerID, linkID); err != nil {
			c.JSON(apierrors.StatusFor(err), gin.H{"error": apierrors.MessageFor(err)})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "mailbox link removed", "id": linkID})
	}
}
