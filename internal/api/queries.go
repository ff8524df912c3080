package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/models"
)

func (h *Handler) GetChainHandler(w http.ResponseWriter, r *http.Request) {
	total, err := h.node.TotalIssuance(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Chain{
		Height:        h.node.Height(),
		Params:        h.node.Params(),
		TotalIssuance: total,
	})
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id := domain.AccountID(mux.Vars(r)["id"])
	b, err := h.node.Account(r.Context(), id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Account{
		ID:        id,
		Total:     b.Total,
		Locked:    b.Locked,
		Spendable: b.Spendable(),
	})
}

func (h *Handler) GetAllowanceHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, spender := domain.AccountID(vars["id"]), domain.AccountID(vars["spender"])
	amount, err := h.node.Allowance(r.Context(), owner, spender)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Allowance{Owner: owner, Spender: spender, Amount: amount})
}

func (h *Handler) ListListingsHandler(w http.ResponseWriter, r *http.Request) {
	listings, err := h.node.Listings(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	height := h.node.Height()
	statusFilter := domain.ListingStatus(r.URL.Query().Get("status"))
	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		status := l.Status(height)
		if statusFilter != "" && status != statusFilter {
			continue
		}
		out = append(out, models.Listing{Listing: l, Status: status})
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) GetListingHandler(w http.ResponseWriter, r *http.Request) {
	hash, err := hashVar(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := h.node.Listing(r.Context(), hash)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Listing{Listing: l, Status: l.Status(h.node.Height())})
}

func (h *Handler) GetChallengeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := challengeVar(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.node.Challenge(r.Context(), id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Challenge{Challenge: c, Unclaimed: c.Unclaimed()})
}

func (h *Handler) ListVotesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := challengeVar(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.node.Challenge(r.Context(), id); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	votes, err := h.node.Votes(r.Context(), id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	if votes == nil {
		votes = []domain.Vote{}
	}
	respondWithJSON(w, http.StatusOK, votes)
}

func (h *Handler) GetVoteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := challengeVar(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, found, err := h.node.Vote(r.Context(), id, domain.AccountID(mux.Vars(r)["voter"]))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Vote not found")
		return
	}
	respondWithJSON(w, http.StatusOK, v)
}
