// Package models defines the records persisted and exchanged by the listings service.
package models

// House is a single listing. ID, CreatedAt and Realtor are fixed at creation.
type House struct {
	ID             uint64   `json:"id"`
	OwnerName      string   `json:"owner_name"`
	Realtor        string   `json:"realtor,omitempty"`
	HouseType      string   `json:"house_type"`
	Location       string   `json:"location"`
	CreatedAt      uint64   `json:"created_at"`
	UpdatedAt      *uint64  `json:"updated_at,omitempty"`
	Price          uint64   `json:"price"`
	AvailableUnits uint64   `json:"available_units"`
	Availability   bool     `json:"availability"`
	Buyers         []string `json:"buyers,omitempty"`
}

// HousePayload carries the caller-supplied, mutable subset of a House.
type HousePayload struct {
	OwnerName      string `json:"owner_name"`
	HouseType      string `json:"house_type"`
	Location       string `json:"location"`
	AvailableUnits uint64 `json:"available_units"`
	Price          uint64 `json:"price"`
	Availability   bool   `json:"availability"`
}

// Apply overwrites the mutable fields of h with the payload values.
func (p *HousePayload) Apply(h *House) {
	h.OwnerName = p.OwnerName
	h.HouseType = p.HouseType
	h.Location = p.Location
	h.AvailableUnits = p.AvailableUnits
	h.Price = p.Price
	h.Availability = p.Availability
}

// EffectivelyAvailable reports whether a unit can actually be bought: the
// stored flag is set and at least one unit remains.
func (h *House) EffectivelyAvailable() bool {
	return h.Availability && h.AvailableUnits > 0
}

// Touch records a mutation at ts.
func (h *House) Touch(ts uint64) {
	h.UpdatedAt = &ts
}

// Clone returns a deep copy of h.
func (h *House) Clone() *House {
	c := *h
	if h.UpdatedAt != nil {
		ts := *h.UpdatedAt
		c.UpdatedAt = &ts
	}
	if h.Buyers != nil {
		c.Buyers = append([]string(nil), h.Buyers...)
	}
	return &c
}
