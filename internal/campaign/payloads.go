package campaign

import "fmt"

// Job names routed through the queue. Each name is handled by exactly one
// worker goroutine, so jobs of the same kind never run concurrently.
const (
	JobVerifyCampaigns  = "campaign:verify"
	JobProcessCampaign  = "campaign:process"
	JobPrepareContact   = "campaign:prepare"
	JobDispatchCampaign = "campaign:dispatch"
)

// ProcessJobID is the fan-out job id for a campaign. It is deterministic so
// that repeated promotions of the same campaign collapse into one pending
// job.
func ProcessJobID(campaignID int64) string {
	return fmt.Sprintf("campaign-process-%d", campaignID)
}

// StartProcessing triggers the batch fan-out for one promoted campaign.
type StartProcessing struct {
	CampaignID int64 `json:"campaign_id"`
}

// PrepareContact builds one contact's shipping record and schedules its
// dispatch. The delay was computed at fan-out time from the contact's
// position in the list.
type PrepareContact struct {
	CampaignID int64      `json:"campaign_id"`
	ContactID  int64      `json:"contact_id"`
	Variables  []Variable `json:"variables,omitempty"`
	DelayMS    int64      `json:"delay_ms"`
}

// DispatchCampaign sends one prepared shipping record.
type DispatchCampaign struct {
	CampaignID int64 `json:"campaign_id"`
	ShippingID int64 `json:"shipping_id"`
	ContactID  int64 `json:"contact_id"`
}
