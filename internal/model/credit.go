package model

import "time"

// PackageType identifies the credit pack a user last purchased.
type PackageType string

const (
	PackageFree    PackageType = "free"
	PackageStarter PackageType = "starter"
	PackageCreator PackageType = "creator"
	PackageArchive PackageType = "archive"
)

// Valid reports whether p is one of the known package types.
func (p PackageType) Valid() bool {
	switch p {
	case PackageFree, PackageStarter, PackageCreator, PackageArchive:
		return true
	}
	return false
}

// Paid reports whether p is a purchased pack.
func (p PackageType) Paid() bool {
	return p.Valid() && p != PackageFree
}

// Default values for a lazily created account.
const (
	DefaultRemainingRestorations = 1
	DefaultPackage               = PackageFree
)

// CreditAccount is a user's restoration balance, stored in user_credits.
type CreditAccount struct {
	ID                    string      `db:"id" json:"id"`
	UserID                string      `db:"user_id" json:"user_id"`
	RemainingRestorations int         `db:"remaining_restorations" json:"remaining_restorations"`
	TotalRestorationsUsed int         `db:"total_restorations_used" json:"total_restorations_used"`
	IsFreeUser            bool        `db:"is_free_user" json:"is_free_user"`
	PackageType           PackageType `db:"package_type" json:"package_type"`
	CreatedAt             time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time   `db:"updated_at" json:"updated_at"`
}

// CreditPack is a purchasable bundle of restorations.
type CreditPack struct {
	Package     PackageType `json:"package"`
	Name        string      `json:"name"`
	Credits     int         `json:"credits"`
	AmountCents int64       `json:"amount_cents"`
}

// CreditPacks lists the packs offered at checkout.
var CreditPacks = []CreditPack{
	{Package: PackageStarter, Name: "Starter", Credits: 1, AmountCents: 1000},
	{Package: PackageCreator, Name: "Creator", Credits: 10, AmountCents: 5000},
	{Package: PackageArchive, Name: "Archive", Credits: 50, AmountCents: 15000},
}

// FindCreditPack returns the pack for p.
func FindCreditPack(p PackageType) (CreditPack, bool) {
	for _, pack := range CreditPacks {
		if pack.Package == p {
			return pack, true
		}
	}
	return CreditPack{}, false
}

// ProcessedWebhookEvent records a Stripe event that has already been applied to the ledger.
type ProcessedWebhookEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	UserID      string    `db:"user_id"`
	Credits     int       `db:"credits"`
	ProcessedAt time.Time `db:"processed_at"`
}
