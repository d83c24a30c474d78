// internal/service/address_matcher.go
package service

import (
	"regexp"
	"strings"

	"github.com/coldpath/campaign-engine/internal/model"
)

// AddressMatcher attributes a non-delivery report to a tracking record by the
// recipient addresses it mentions. It only answers when the attribution is
// unambiguous; one notification matching several candidates is a miss.
type AddressMatcher struct{}

var _ Matcher = (*AddressMatcher)(nil)

var finalRecipientPattern = regexp.MustCompile(`(?i)Final-Recipient:\s*rfc822;\s*([^\s;]+@[^\s;]+)`)

var anyEmailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

func (m *AddressMatcher) Match(n Notification, candidates []*model.TrackingRecord) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	// Structured DSN field first, then every address the text mentions.
	mentioned := make([]string, 0, 4)
	if f := finalRecipientPattern.FindStringSubmatch(n.Text); f != nil {
		mentioned = append(mentioned, strings.ToLower(f[1]))
	}
	for _, addr := range anyEmailPattern.FindAllString(n.Subject+" "+n.Text, -1) {
		addr = strings.ToLower(addr)
		if isSystemAddress(addr) {
			continue
		}
		mentioned = append(mentioned, addr)
	}
	if len(mentioned) == 0 {
		return "", false
	}

	if id, ok := uniqueMatch(candidates, mentioned, func(rec, addr string) bool {
		return rec == addr
	}); ok {
		return id, true
	}

	// Providers occasionally rewrite the domain in the report, so fall back
	// to matching the local part against candidate local parts.
	if id, ok := uniqueMatch(candidates, mentioned, func(rec, addr string) bool {
		return localPartOf(rec) == localPartOf(addr) && localPartOf(rec) != ""
	}); ok {
		return id, true
	}

	return "", false
}

func uniqueMatch(candidates []*model.TrackingRecord, mentioned []string, equal func(rec, addr string) bool) (string, bool) {
	matched := ""
	for _, rec := range candidates {
		email := strings.ToLower(rec.RecipientEmail)
		for _, addr := range mentioned {
			if !equal(email, addr) {
				continue
			}
			if matched != "" && matched != rec.TrackingID {
				return "", false
			}
			matched = rec.TrackingID
		}
	}
	return matched, matched != ""
}

func isSystemAddress(addr string) bool {
	for _, term := range systemSenderTerms {
		if strings.Contains(addr, term) {
			return true
		}
	}
	return false
}

func localPartOf(addr string) string {
	at := strings.IndexByte(addr, '@')
	if at <= 0 {
		return ""
	}
	return addr[:at]
}
