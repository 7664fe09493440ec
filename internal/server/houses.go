package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/kilupskalvis/listings/internal/listing"
	"github.com/kilupskalvis/listings/internal/models"
)

// availabilityResponse reports both the stored flag and whether a unit can
// actually be bought; the two differ when the flag is set but no units remain.
type availabilityResponse struct {
	ID        uint64 `json:"id"`
	Available bool   `json:"available"`
	Effective bool   `json:"effective"`
}

type priceRequest struct {
	Price *uint64 `json:"price"`
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errors.New("house id must be an unsigned integer")
	}
	return id, nil
}

// --- Queries ---

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	h, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (a *api) handleList(w http.ResponseWriter, r *http.Request) {
	a.writeHouses(w, r)(a.svc.List(r.Context()))
}

func (a *api) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	a.writeHouses(w, r)(a.svc.ListAvailable(r.Context()))
}

func (a *api) handleSorted(w http.ResponseWriter, r *http.Request) {
	a.writeHouses(w, r)(a.svc.SortByOwnerName(r.Context()))
}

func (a *api) handleSearch(w http.ResponseWriter, r *http.Request) {
	a.writeHouses(w, r)(a.svc.Search(r.Context(), r.URL.Query().Get("q")))
}

func (a *api) handleSearchPrice(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		badRequest(w, "amount must be an unsigned integer")
		return
	}
	a.writeHouses(w, r)(a.svc.SearchPrice(r.Context(), amount))
}

// writeHouses adapts a query result to a response.
func (a *api) writeHouses(w http.ResponseWriter, r *http.Request) func([]*models.House, error) {
	return func(houses []*models.House, err error) {
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, houses)
	}
}

func (a *api) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	h, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		ID:        h.ID,
		Available: h.Availability,
		Effective: h.EffectivelyAvailable(),
	})
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	history, err := a.svc.UpdateHistory(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// --- Mutations ---

func (a *api) handleCreate(w http.ResponseWriter, r *http.Request) {
	var p models.HousePayload
	if err := readJSON(r, a.cfg.MaxRequestBody, &p); err != nil {
		badRequest(w, err.Error())
		return
	}
	h, err := a.svc.Create(r.Context(), p)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/houses/"+strconv.FormatUint(h.ID, 10))
	writeJSON(w, http.StatusCreated, h)
}

func (a *api) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var p models.HousePayload
	if err := readJSON(r, a.cfg.MaxRequestBody, &p); err != nil {
		badRequest(w, err.Error())
		return
	}
	h, err := a.svc.Update(r.Context(), id, p)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// handleBuy takes no body under the guarded policy and a house payload
// under the overwrite policy.
func (a *api) handleBuy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	var h *models.House
	if a.svc.Policy().Buy == listing.BuyOverwrite {
		var p models.HousePayload
		if err := readJSON(r, a.cfg.MaxRequestBody, &p); err != nil {
			if errors.Is(err, io.EOF) {
				badRequest(w, "buy policy overwrite requires a house payload")
				return
			}
			badRequest(w, err.Error())
			return
		}
		h, err = a.svc.BuyWithPayload(r.Context(), id, p)
	} else {
		h, err = a.svc.Buy(r.Context(), id)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (a *api) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	h, err := a.svc.Delete(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (a *api) handleSetAvailable(w http.ResponseWriter, r *http.Request) {
	a.setAvailability(w, r, a.svc.SetAvailable)
}

func (a *api) handleSetUnavailable(w http.ResponseWriter, r *http.Request) {
	a.setAvailability(w, r, a.svc.SetUnavailable)
}

func (a *api) setAvailability(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, id uint64) (*models.House, error)) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	h, err := set(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (a *api) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req priceRequest
	if err := readJSON(r, a.cfg.MaxRequestBody, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Price == nil {
		badRequest(w, "price is required")
		return
	}
	h, err := a.svc.SetPrice(r.Context(), id, *req.Price)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}
