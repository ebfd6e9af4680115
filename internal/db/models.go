package db

import (
	"time"
)

// Campaign statuses. Transitions are monotonic except for the explicit
// operator-driven restart (CANCELED -> IN_PROGRESS).
const (
	CampaignInactive   = "INACTIVE"
	CampaignScheduled  = "SCHEDULED"
	CampaignInProgress = "IN_PROGRESS"
	CampaignCanceled   = "CANCELED"
	CampaignFinished   = "FINISHED"
)

// Campaign is a tenant-defined bulk-messaging task targeting a contact list.
type Campaign struct {
	ID            int64      `json:"id"`
	TenantID      int64      `json:"tenant_id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Message1      string     `json:"message1"`
	Message2      string     `json:"message2"`
	Message3      string     `json:"message3"`
	Message4      string     `json:"message4"`
	Message5      string     `json:"message5"`
	MediaPath     *string    `json:"media_path,omitempty"`
	MediaName     *string    `json:"media_name,omitempty"`
	FileListID    *int64     `json:"file_list_id,omitempty"`
	ContactListID *int64     `json:"contact_list_id,omitempty"`
	WhatsappID    *int64     `json:"whatsapp_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Messages returns the campaign's non-empty template variants, in order.
func (c *Campaign) Messages() []string {
	var msgs []string
	for _, m := range []string{c.Message1, c.Message2, c.Message3, c.Message4, c.Message5} {
		if m != "" {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// ContactListItem is one entry of a tenant-owned contact list. Only entries
// with a valid WhatsApp number are targeted by campaigns.
type ContactListItem struct {
	ID              int64  `json:"id"`
	ContactListID   int64  `json:"contact_list_id"`
	TenantID        int64  `json:"tenant_id"`
	Name            string `json:"name"`
	Number          string `json:"number"`
	Email           string `json:"email"`
	IsWhatsappValid bool   `json:"is_whatsapp_valid"`
}

// CampaignSetting is a per-tenant key/value pacing setting. Values are
// JSON-encoded.
type CampaignSetting struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

// CampaignShipping tracks delivery of one campaign message to one contact.
// The (campaign_id, contact_id) unique constraint is the pipeline's
// idempotency anchor; JobID identifies the currently scheduled dispatch
// attempt.
type CampaignShipping struct {
	ID          int64      `json:"id"`
	CampaignID  int64      `json:"campaign_id"`
	ContactID   int64      `json:"contact_id"`
	Number      string     `json:"number"`
	Message     string     `json:"message"`
	JobID       *string    `json:"job_id,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Whatsapp is a tenant's sending connection (one WhatsApp account).
type Whatsapp struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Session  string `json:"session"`
}

// FileList is a named set of attachments a campaign can fan out before its
// primary message.
type FileList struct {
	ID       int64        `json:"id"`
	TenantID int64        `json:"tenant_id"`
	Name     string       `json:"name"`
	Options  []FileOption `json:"options"`
}

// FileOption is one attachment of a FileList.
type FileOption struct {
	ID         int64  `json:"id"`
	FileListID int64  `json:"file_list_id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
}

// Schedule statuses for one-off scheduled messages.
const (
	SchedulePending   = "PENDING"
	ScheduleScheduled = "SCHEDULED"
	ScheduleSent      = "SENT"
	ScheduleError     = "ERROR"
)

// Schedule is a one-off message to a single contact at a fixed time, distinct
// from campaigns.
type Schedule struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"tenant_id"`
	ContactID  int64      `json:"contact_id"`
	WhatsappID *int64     `json:"whatsapp_id,omitempty"`
	Body       string     `json:"body"`
	MediaPath  *string    `json:"media_path,omitempty"`
	SendAt     time.Time  `json:"send_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	Status     string     `json:"status"`
}
