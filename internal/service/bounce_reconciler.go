// internal/service/bounce_reconciler.go
package service

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/coldpath/campaign-engine/internal/mail"
	"github.com/coldpath/campaign-engine/internal/model"
	"github.com/coldpath/campaign-engine/internal/repository"
)

// Notification is a mailbox message suspected to be a non-delivery report.
type Notification struct {
	MessageID  string
	From       string
	Subject    string
	Text       string
	ReceivedAt time.Time
}

// Matcher resolves a notification to the tracking record it refers to.
// Matching is inherently heuristic, so it sits behind this seam; a provider
// with structured bounce webhooks can swap in an exact implementation.
type Matcher interface {
	Match(n Notification, candidates []*model.TrackingRecord) (trackingID string, ok bool)
}

// BounceReconciler scans a bounded recent window of the sending mailbox for
// non-delivery reports and flips the matching sent records to bounced. It
// runs off the request path with a timeout and returns whatever it found so
// far when the deadline hits.
type BounceReconciler struct {
	CampaignRepo repository.CampaignRepositoryInterface
	TrackingRepo repository.TrackingRepositoryInterface
	Reader       mail.MailboxReader
	Matcher      Matcher

	Folder  string
	Window  time.Duration
	Timeout time.Duration
	Now     func() time.Time
}

func NewBounceReconciler(campaigns repository.CampaignRepositoryInterface,
	tracking repository.TrackingRepositoryInterface, reader mail.MailboxReader) *BounceReconciler {
	return &BounceReconciler{
		CampaignRepo: campaigns,
		TrackingRepo: tracking,
		Reader:       reader,
		Matcher:      &AddressMatcher{},
		Folder:       "Inbox",
		Window:       14 * 24 * time.Hour,
		Timeout:      30 * time.Second,
		Now:          time.Now,
	}
}

type BouncedRecipient struct {
	Email        string    `json:"email"`
	TrackingID   string    `json:"tracking_id"`
	BounceReason string    `json:"bounce_reason"`
	BounceAt     time.Time `json:"bounce_at"`
}

type ReconcileReport struct {
	CampaignID    string             `json:"campaign_id"`
	Scanned       int                `json:"scanned"`
	Notifications int                `json:"notifications"`
	Bounced       []BouncedRecipient `json:"bounced"`
	Unmatched     int                `json:"unmatched"`
	Replies       int                `json:"replies"`
	TimedOut      bool               `json:"timed_out,omitempty"`
}

// Reconcile runs one scan for the campaign. Re-running it over the same
// mailbox window is idempotent: already-bounced records are never candidates
// and the sent->bounced flip is guarded in the store.
func (r *BounceReconciler) Reconcile(ctx context.Context, campaignID string) (*ReconcileReport, error) {
	campaign, err := r.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	records, err := r.TrackingRepo.ListByCampaign(campaignID)
	if err != nil {
		return nil, err
	}

	candidates := make([]*model.TrackingRecord, 0, len(records))
	for _, rec := range records {
		if rec.Outcome == model.OutcomeSent {
			candidates = append(candidates, rec)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	now := r.Now().UTC()
	messages, err := r.Reader.ListRecentMessages(ctx, campaign.MailboxRef, r.Folder, now.Add(-r.Window))
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{CampaignID: campaignID, Bounced: []BouncedRecipient{}}

	for _, msg := range messages {
		if ctx.Err() != nil {
			report.TimedOut = true
			break
		}
		report.Scanned++

		n := toNotification(msg)
		if !isNonDeliveryReport(n) {
			if r.noteReply(campaign, n, candidates) {
				report.Replies++
			}
			continue
		}
		report.Notifications++

		// A record can only have bounced after it was sent.
		eligible := make([]*model.TrackingRecord, 0, len(candidates))
		for _, rec := range candidates {
			if rec.SentAt != nil && !rec.SentAt.After(n.ReceivedAt) {
				eligible = append(eligible, rec)
			}
		}

		trackingID, ok := r.Matcher.Match(n, eligible)
		if !ok {
			// Known miss: an unattributable notification is logged and
			// dropped, never guessed at.
			report.Unmatched++
			log.Printf("⚠️ unmatched bounce notification %q for campaign %s", n.Subject, campaignID)
			continue
		}

		reason := extractBounceReason(n)
		changed, err := r.TrackingRepo.MarkBounced(trackingID, reason, now)
		if err != nil {
			return report, err
		}
		if !changed {
			continue
		}

		for i, rec := range candidates {
			if rec.TrackingID == trackingID {
				report.Bounced = append(report.Bounced, BouncedRecipient{
					Email:        rec.RecipientEmail,
					TrackingID:   trackingID,
					BounceReason: reason,
					BounceAt:     now,
				})
				candidates = append(candidates[:i], candidates[i+1:]...)
				break
			}
		}
	}

	return report, nil
}

// noteReply marks a sent record replied when a normal message comes back
// from one of the campaign's recipients referencing the campaign subject.
func (r *BounceReconciler) noteReply(campaign *model.Campaign, n Notification, candidates []*model.TrackingRecord) bool {
	subject := strings.ToLower(strings.TrimSpace(n.Subject))
	if !strings.HasPrefix(subject, "re:") {
		return false
	}
	if !strings.Contains(subject, strings.ToLower(strings.TrimSpace(campaign.Subject))) {
		return false
	}

	from := strings.ToLower(strings.TrimSpace(n.From))
	for _, rec := range candidates {
		if strings.ToLower(rec.RecipientEmail) != from {
			continue
		}
		changed, err := r.TrackingRepo.MarkReplied(rec.TrackingID, n.ReceivedAt)
		if err != nil {
			log.Printf("reconciler: cannot mark reply for %s: %v", rec.TrackingID, err)
			return false
		}
		return changed
	}
	return false
}

func toNotification(msg mail.InboundMessage) Notification {
	if msg.Body == "" && len(msg.Raw) > 0 {
		if err := mail.ParseRaw(&msg); err != nil {
			log.Printf("reconciler: cannot parse message %s: %v", msg.ID, err)
		}
	}
	return Notification{
		MessageID:  msg.ID,
		From:       strings.ToLower(strings.TrimSpace(msg.From)),
		Subject:    msg.Subject,
		Text:       stripHTML(msg.Body),
		ReceivedAt: msg.ReceivedAt,
	}
}

// Bounce classification, recipient extraction and reason mapping below are
// deliberately loose: NDR formats vary by provider and there is no single
// structured contract to rely on.

var bounceIndicators = []string{
	"delivery", "delivered", "undeliverable", "undelivered", "failed", "failure",
	"not found", "wasn't found", "was not found",
	"rejected", "bounce", "bounced", "returned",
	"status notification", "delivery status", "mail delivery",
	"couldn't be", "could not be", "unable to",
	"mailer-daemon", "postmaster", "mail delivery subsystem",
}

var systemSenderTerms = []string{"mailer", "postmaster", "daemon", "noreply", "no-reply", "donotreply"}

var subjectBounceTerms = []string{"delivery", "undeliverable", "bounce", "failure", "rejected"}

func isNonDeliveryReport(n Notification) bool {
	searchText := strings.ToLower(n.Subject + " " + n.Text)

	indicatorCount := 0
	for _, indicator := range bounceIndicators {
		if strings.Contains(searchText, indicator) {
			indicatorCount++
		}
	}

	systemSender := false
	for _, term := range systemSenderTerms {
		if strings.Contains(n.From, term) {
			systemSender = true
			break
		}
	}

	if indicatorCount >= 2 {
		return true
	}
	if indicatorCount >= 1 && systemSender {
		return true
	}

	subject := strings.ToLower(n.Subject)
	for _, term := range subjectBounceTerms {
		if strings.Contains(subject, term) {
			return true
		}
	}
	return false
}

var bounceReasonPatterns = []struct {
	pattern *regexp.Regexp
	reason  string
}{
	{regexp.MustCompile(`(?i)wasn['’]t\s+found`), "Recipient wasn't found"},
	{regexp.MustCompile(`(?i)couldn['’]t\s+be\s+delivered`), "Message couldn't be delivered"},
	{regexp.MustCompile(`(?i)could\s+not\s+be\s+delivered`), "Message could not be delivered"},
	{regexp.MustCompile(`(?i)mailbox\s+full`), "Mailbox full"},
	{regexp.MustCompile(`(?i)mailbox\s+quota`), "Mailbox quota exceeded"},
	{regexp.MustCompile(`(?i)invalid\s+(?:email\s+)?address`), "Invalid email address"},
	{regexp.MustCompile(`(?i)address\s+rejected`), "Address rejected"},
	{regexp.MustCompile(`(?i)domain\s+not\s+found`), "Domain not found"},
	{regexp.MustCompile(`(?i)user\s+unknown`), "User unknown"},
	{regexp.MustCompile(`(?i)recipient\s+rejected`), "Recipient rejected"},
	{regexp.MustCompile(`(?i)permanent\s+failure`), "Permanent delivery failure"},
	{regexp.MustCompile(`(?i)temporary\s+failure`), "Temporary delivery failure"},
	{regexp.MustCompile(`(?i)spam`), "Message rejected as spam"},
	{regexp.MustCompile(`(?i)blocked`), "Message blocked"},
}

func extractBounceReason(n Notification) string {
	text := n.Subject + " " + n.Text
	for _, entry := range bounceReasonPatterns {
		if entry.pattern.MatchString(text) {
			return entry.reason
		}
	}
	if strings.TrimSpace(n.Subject) != "" {
		return n.Subject
	}
	return "Delivery failed"
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

func stripHTML(s string) string {
	return strings.Join(strings.Fields(htmlTagPattern.ReplaceAllString(s, " ")), " ")
}
