// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrTrackingNotFound marks an unknown tracking identifier.
type ErrTrackingNotFound struct {
	TrackingID string
}

func (e *ErrTrackingNotFound) Error() string {
	return fmt.Sprintf("tracking record %s not found", e.TrackingID)
}

func NewTrackingNotFound(id string) error {
	return &ErrTrackingNotFound{TrackingID: id}
}

// ErrNoValidRecipients is returned when every submitted recipient was
// rejected (invalid address or unsubscribed).
type ErrNoValidRecipients struct {
	Invalid      []string
	Unsubscribed []string
}

func (e *ErrNoValidRecipients) Error() string {
	return fmt.Sprintf("no valid recipients (%d invalid, %d unsubscribed)",
		len(e.Invalid), len(e.Unsubscribed))
}
