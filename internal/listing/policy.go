package listing

import "fmt"

// Ownership selects whether mutations are gated by the record's realtor.
type Ownership string

const (
	// OwnershipEnforced validates payloads, stamps the creator as realtor and
	// restricts update and delete to that realtor.
	OwnershipEnforced Ownership = "enforced"
	// OwnershipOpen performs no validation and no ownership checks.
	OwnershipOpen Ownership = "open"
)

// BuyPolicy selects how a purchase changes a record.
type BuyPolicy string

const (
	// BuyGuarded refuses purchases without availability, records the buyer
	// and clears availability when the last unit is sold.
	BuyGuarded BuyPolicy = "guarded"
	// BuyOverwrite replaces the mutable fields from a payload and sets the
	// unit count to one less than the payload's.
	BuyOverwrite BuyPolicy = "overwrite"
)

// Policy bundles the behavioural switches of a Service.
type Policy struct {
	Ownership Ownership
	Buy       BuyPolicy
}

// DefaultPolicy is the ownership-aware, guarded configuration.
func DefaultPolicy() Policy {
	return Policy{Ownership: OwnershipEnforced, Buy: BuyGuarded}
}

// Validate rejects unknown policy values.
func (p Policy) Validate() error {
	switch p.Ownership {
	case OwnershipEnforced, OwnershipOpen:
	default:
		return fmt.Errorf("unknown ownership mode %q (want %q or %q)", p.Ownership, OwnershipEnforced, OwnershipOpen)
	}
	switch p.Buy {
	case BuyGuarded, BuyOverwrite:
	default:
		return fmt.Errorf("unknown buy policy %q (want %q or %q)", p.Buy, BuyGuarded, BuyOverwrite)
	}
	return nil
}

func (p Policy) enforced() bool {
	return p.Ownership == OwnershipEnforced
}
