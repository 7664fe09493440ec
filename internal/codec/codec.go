// Package codec converts House records to and from their stored byte form.
//
// The layout is a single version byte followed by the borsh encoding of
// wireHouse. Field order in wireHouse is part of the on-disk format and must
// not change without bumping Version.
package codec

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/listings/internal/models"
	"github.com/near/borsh-go"
)

const (
	// Version is the leading byte of every encoded record.
	Version byte = 1

	// MaxEncodedSize is the largest encoded record the store accepts.
	MaxEncodedSize = 1024
)

var (
	ErrTooLarge       = errors.New("encoded record exceeds size limit")
	ErrEmpty          = errors.New("empty record data")
	ErrUnknownVersion = errors.New("unknown record version")
)

// wireHouse is the frozen storage schema. borsh has no usable Option for Go
// pointers, so updated_at is stored as a presence flag and a value.
type wireHouse struct {
	ID             uint64
	OwnerName      string
	Realtor        string
	HouseType      string
	Location       string
	CreatedAt      uint64
	HasUpdatedAt   bool
	UpdatedAt      uint64
	Price          uint64
	AvailableUnits uint64
	Availability   bool
	Buyers         []string
}

// Encode returns the stored form of h.
func Encode(h *models.House) ([]byte, error) {
	w := wireHouse{
		ID:             h.ID,
		OwnerName:      h.OwnerName,
		Realtor:        h.Realtor,
		HouseType:      h.HouseType,
		Location:       h.Location,
		CreatedAt:      h.CreatedAt,
		Price:          h.Price,
		AvailableUnits: h.AvailableUnits,
		Availability:   h.Availability,
		Buyers:         h.Buyers,
	}
	if h.UpdatedAt != nil {
		w.HasUpdatedAt = true
		w.UpdatedAt = *h.UpdatedAt
	}

	body, err := borsh.Serialize(w)
	if err != nil {
		return nil, fmt.Errorf("serialize house %d: %w", h.ID, err)
	}

	data := make([]byte, 0, len(body)+1)
	data = append(data, Version)
	data = append(data, body...)
	if len(data) > MaxEncodedSize {
		return nil, fmt.Errorf("%w: house %d is %d bytes (max %d)", ErrTooLarge, h.ID, len(data), MaxEncodedSize)
	}
	return data, nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*models.House, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if data[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, data[0])
	}

	var w wireHouse
	if err := borsh.Deserialize(&w, data[1:]); err != nil {
		return nil, fmt.Errorf("deserialize house: %w", err)
	}

	h := &models.House{
		ID:             w.ID,
		OwnerName:      w.OwnerName,
		Realtor:        w.Realtor,
		HouseType:      w.HouseType,
		Location:       w.Location,
		CreatedAt:      w.CreatedAt,
		Price:          w.Price,
		AvailableUnits: w.AvailableUnits,
		Availability:   w.Availability,
	}
	if w.HasUpdatedAt {
		ts := w.UpdatedAt
		h.UpdatedAt = &ts
	}
	if len(w.Buyers) > 0 {
		h.Buyers = w.Buyers
	}
	return h, nil
}
