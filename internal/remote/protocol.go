// Package remote is a client for the listings HTTP API.
package remote

// ErrorResponse is the body of every error the server returns.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AvailabilityResponse reports the stored flag and whether a unit can be
// bought.
type AvailabilityResponse struct {
	ID        uint64 `json:"id"`
	Available bool   `json:"available"`
	Effective bool   `json:"effective"`
}

// PriceRequest is the body of PUT /api/v1/houses/{id}/price.
type PriceRequest struct {
	Price uint64 `json:"price"`
}
