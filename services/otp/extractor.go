package otp

import (
	"regexp"
	"strings"

	"github.com/credstack/credstack/interfaces"
	"github.com/credstack/credstack/internal/utils"
)

// Extraction is pure string work over an already fetched message. Patterns
// are ordered from most to least specific and the first match wins, so the
// same message always yields the same code.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`<em[^>]*>([A-Z0-9]{6})</em>`),
	regexp.MustCompile(`<em[^>]*>([A-Z0-9]{6,8})</em>`),
	regexp.MustCompile(`>([A-Z0-9]{6})</em>`),
	regexp.MustCompile(`code[^>]*>([A-Z0-9]{6})<`),
	regexp.MustCompile(`security code[^<]*<[^>]*>([A-Z0-9]{6})<`),
}

var recipientHeaders = []string{"To", "Delivered-To", "X-Original-To"}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractRecipient resolves the normalized recipient address of a message.
// Headers are consulted in a fixed priority order and the first parseable
// address wins. Returns "" when no header yields an address.
func (e *Extractor) ExtractRecipient(msg *interfaces.MailMessage) string {
	for _, header := range recipientHeaders {
		value := headerValue(msg, header)
		if value == "" {
			continue
		}
		address := utils.ExtractAddress(value)
		if address == "" {
			continue
		}
		return utils.NormalizeEmailAddress(address)
	}
	return ""
}

// ExtractCode scans the message body with the pattern ladder and returns the
// first captured code. Returns "" when nothing matches; absence of a code is
// not an error.
func (e *Extractor) ExtractCode(msg *interfaces.MailMessage) string {
	if msg == nil || msg.Body == "" {
		return ""
	}
	for _, pattern := range codePatterns {
		if match := pattern.FindStringSubmatch(msg.Body); len(match) > 1 {
			return match[1]
		}
	}
	return ""
}

// headerValue does a case-insensitive header lookup. Servers disagree on
// header casing and the parsed map preserves whatever came over the wire.
func headerValue(msg *interfaces.MailMessage, name string) string {
	if msg == nil {
		return ""
	}
	if value, ok := msg.Headers[name]; ok {
		return value
	}
	for key, value := range msg.Headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}
