package models

import (
	"time"
)

const (
	OfferPending   = "pending"
	OfferAccepted  = "accepted"
	OfferRejected  = "rejected"
	OfferCountered = "countered"
	OfferExpired   = "expired"
	OfferShipped   = "shipped"
	OfferCompleted = "completed"
)

// OfferTTL is how long a newly created offer or counter-offer stays open.
const OfferTTL = 48 * time.Hour

// TradeOffer is one round of a peer-to-peer negotiation. Counter-offers chain
// through ParentOfferID; NegotiationRound is always parent round + 1 and at
// most one offer in a chain is pending at a time.
type TradeOffer struct {
	ID               string      `json:"id" db:"id"`
	BuyerID          string      `json:"buyer_id" db:"buyer_id"`
	SellerID         string      `json:"seller_id" db:"seller_id"`
	TargetVariantID  string      `json:"target_variant_id" db:"target_variant_id"`
	CashAmount       int64       `json:"cash_amount" db:"cash_amount"` // in cents
	Status           string      `json:"status" db:"status"`
	NegotiationRound int         `json:"negotiation_round" db:"negotiation_round"`
	ParentOfferID    *string     `json:"parent_offer_id,omitempty" db:"parent_offer_id"`
	ProposedBy       string      `json:"proposed_by" db:"proposed_by"`
	Notes            string      `json:"notes,omitempty" db:"notes"`
	FairnessScore    *float64    `json:"fairness_score,omitempty" db:"fairness_score"` // advisory only
	ExpiryAt         time.Time   `json:"expiry_at" db:"expiry_at"`
	EscrowAmount     int64       `json:"escrow_amount" db:"escrow_amount"`
	EscrowReleased   bool        `json:"escrow_released" db:"escrow_released"`
	Items            []TradeItem `json:"items,omitempty" db:"-"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the offer's window has passed. The status flip to
// "expired" itself is done by the external sweep, never in-process.
func (o *TradeOffer) Expired(now time.Time) bool {
	return now.After(o.ExpiryAt)
}

// IsParty reports whether userID is one of the two negotiating parties.
func (o *TradeOffer) IsParty(userID string) bool {
	return userID == o.BuyerID || userID == o.SellerID
}

// Counterparty returns the party opposite to userID, or "" if userID is not a
// party to the offer.
func (o *TradeOffer) Counterparty(userID string) string {
	switch userID {
	case o.BuyerID:
		return o.SellerID
	case o.SellerID:
		return o.BuyerID
	}
	return ""
}

const (
	TradeItemVariant  = "variant"
	TradeItemExternal = "external"
)

// TradeItem is one good thrown into an offer alongside cash. The Kind tag is
// validated at the boundary; unknown shapes are rejected before any side
// effect.
type TradeItem struct {
	Kind        string `json:"kind" validate:"required,oneof=variant external"`
	VariantID   string `json:"variant_id,omitempty" validate:"required_if=Kind variant,omitempty,uuid4"`
	Description string `json:"description,omitempty" validate:"required_if=Kind external,max=200"`
}

type NegotiationLogEntry struct {
	ID        int       `json:"id" db:"id"`
	OfferID   string    `json:"offer_id" db:"offer_id"`
	ActorID   string    `json:"actor_id" db:"actor_id"`
	Action    string    `json:"action" db:"action"`
	Details   string    `json:"details,omitempty" db:"details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TradeCompletion is the order-equivalent record cut when an offer is
// accepted; shipped/completed timestamps are filled by the follow-on actions.
type TradeCompletion struct {
	ID          int        `json:"id" db:"id"`
	OfferID     string     `json:"offer_id" db:"offer_id"`
	BuyerID     string     `json:"buyer_id" db:"buyer_id"`
	SellerID    string     `json:"seller_id" db:"seller_id"`
	CashAmount  int64      `json:"cash_amount" db:"cash_amount"`
	AcceptedAt  time.Time  `json:"accepted_at" db:"accepted_at"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty" db:"shipped_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
