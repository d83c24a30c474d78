// internal/service/template_service.go
package service

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/coldpath/campaign-engine/internal/model"
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{?(\w+)\}\}?`)
	linkPattern        = regexp.MustCompile(`<a\s+href=["']([^"']+)["']`)
)

// Personalize resolves {{name}}-style placeholders (single braces also
// accepted) from the recipient's fields. Unknown placeholders are left
// intact so a template typo is visible instead of silently blanked.
func Personalize(template string, rec *model.TrackingRecord) string {
	name := rec.RecipientName
	if name == "" {
		name = localPart(rec.RecipientEmail)
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		switch strings.ToLower(sub[1]) {
		case "name", "firstname", "first_name":
			return firstName(name)
		case "lastname", "last_name":
			return lastName(name)
		case "fullname", "full_name":
			return name
		case "email":
			return rec.RecipientEmail
		}
		return match
	})
}

// InjectTracking rewrites every link through the click endpoint and appends
// the open pixel. Done per recipient since the tracking ID is per recipient.
func InjectTracking(html, baseURL, trackingID string) string {
	clickBase := baseURL + "/tracking/click/" + trackingID

	html = linkPattern.ReplaceAllStringFunc(html, func(match string) string {
		sub := linkPattern.FindStringSubmatch(match)
		return `<a href="` + clickBase + `?url=` + url.QueryEscape(sub[1]) + `"`
	})

	pixel := `<img src="` + baseURL + `/tracking/open/` + trackingID +
		`" width="1" height="1" style="display:none;" />`
	return html + pixel
}

// RenderMessage produces the personalized subject and tracked HTML body for
// one recipient.
func RenderMessage(c *model.Campaign, rec *model.TrackingRecord, baseURL string) (subject, html string) {
	subject = Personalize(c.Subject, rec)
	body := Personalize(c.BodyTemplate, rec)
	html = InjectTracking(strings.ReplaceAll(body, "\n", "<br>"), baseURL, rec.TrackingID)
	return subject, html
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

func firstName(name string) string {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return name
	}
	return parts[0]
}

func lastName(name string) string {
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-1]
}
