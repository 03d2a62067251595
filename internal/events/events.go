package events

// Commission event types published through the outbox.
const (
	EventCommissionCreated  = "commission.created"
	EventCommissionPaid     = "commission.paid"
	EventCommissionReversed = "commission.reversed"
	EventCommissionVoided   = "commission.voided"
	EventFraudFlagged       = "fraud.flagged"
)

// CommissionPayload captures the minimal data downstream consumers
// need to react to a commission lifecycle event.
type CommissionPayload struct {
	CommissionID  string `json:"commission_id"`
	OrderID       string `json:"order_id,omitempty"`
	GroupOrderID  string `json:"group_order_id,omitempty"`
	BeneficiaryID string `json:"beneficiary_id"`
	Level         int    `json:"level"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p CommissionPayload) ToMap() map[string]any {
	payload := map[string]any{
		"commission_id":  p.CommissionID,
		"beneficiary_id": p.BeneficiaryID,
		"level":          p.Level,
		"amount":         p.Amount,
		"status":         p.Status,
	}
	if p.OrderID != "" {
		payload["order_id"] = p.OrderID
	}
	if p.GroupOrderID != "" {
		payload["group_order_id"] = p.GroupOrderID
	}
	return payload
}
