package utils

import (
	"strings"
)

// ExtractAddress pulls the bare address out of a header value that may carry
// a display name, e.g. `"Jane Doe" <User@Domain.com>` -> `User@Domain.com`.
func ExtractAddress(headerValue string) string {
	value := strings.TrimSpace(headerValue)
	if value == "" {
		return ""
	}

	if strings.Contains(value, "<") && strings.Contains(value, ">") {
		startIdx := strings.LastIndex(value, "<") + 1
		endIdx := strings.LastIndex(value, ">")
		if startIdx > 0 && endIdx > startIdx {
			value = value[startIdx:endIdx]
		}
	}

	// a header can list several recipients; the first one is the delivery target
	if idx := strings.IndexAny(value, ",;"); idx != -1 {
		value = value[:idx]
	}

	value = strings.TrimSpace(value)
	if !strings.Contains(value, "@") {
		return ""
	}
	return value
}

// NormalizeEmailAddress produces the canonical, comparable form of an address
// used for matching without decrypting stored ciphertext. Gmail ignores dots
// in the local part and supports plus addressing, so gmail.com/googlemail.com
// addresses are folded to their base form; other domains are only lowercased.
func NormalizeEmailAddress(email string) string {
	lower := strings.ToLower(strings.TrimSpace(email))
	if lower == "" {
		return ""
	}

	atIdx := strings.LastIndex(lower, "@")
	if atIdx == -1 {
		return lower
	}

	local := lower[:atIdx]
	domain := lower[atIdx+1:]

	if domain != "gmail.com" && domain != "googlemail.com" {
		return lower
	}

	if plusIdx := strings.Index(local, "+"); plusIdx != -1 {
		local = local[:plusIdx]
	}
	local = strings.ReplaceAll(local, ".", "")

	// googlemail.com is the same mailbox namespace as gmail.com
	return local + "@gmail.com"
}

// ExtractDomainFromEmail returns the lowercased domain part of an address.
func ExtractDomainFromEmail(email string) string {
	address := ExtractAddress(email)
	parts := strings.Split(address, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parts[1]))
}
