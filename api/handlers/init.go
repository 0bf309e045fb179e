package handlers

import (
	"github.com/credstack/credstack/services"
)

type APIHandlers struct {
	Accounts *AccountHandler
	Grants   *GrantHandler
	Links    *LinkHandler
}

func InitHandlers(svcs *services.Services) *APIHandlers {
	return &APIHandlers{
		Accounts: NewAccountHandler(svcs.CredentialStore, svcs.AccessController),
		Grants:   NewGrantHandler(svcs.AccessController),
		Links:    NewLinkHandler(svcs.MailboxLinkRegistry),
	}
}
