package models

import "time"

// DisputeStatus is the lifecycle of a dispute record. A dispute references
// its order's holdings transitively; it authorizes transitions on them but
// does not own them.
type DisputeStatus string

const (
	DisputeOpen       DisputeStatus = "open"
	DisputeInProgress DisputeStatus = "in_progress"
	DisputeResolved   DisputeStatus = "resolved"
	DisputeDismissed  DisputeStatus = "dismissed"
)

// ResolutionType is the arbiter's verdict for a dispute.
type ResolutionType string

const (
	ResolutionBuyerFavor  ResolutionType = "buyer_favor"
	ResolutionSellerFavor ResolutionType = "seller_favor"
	ResolutionPartial     ResolutionType = "partial"
	ResolutionDismissed   ResolutionType = "dismissed"
)

// Dispute is one buyer-vs-seller conflict over an order's escrowed funds.
type Dispute struct {
	Id             string         `db:"id"`
	OrderId        string         `db:"order_id"`
	PlaintiffId    string         `db:"plaintiff_id"`
	DefendantId    string         `db:"defendant_id"`
	Status         DisputeStatus  `db:"status"`
	ResolutionType ResolutionType `db:"resolution_type"`
	ResolutionText string         `db:"resolution_text"`
	AdminAssigned  string         `db:"admin_assigned"`
	ResolvedAt     *time.Time     `db:"resolved_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}
