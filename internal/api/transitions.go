package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/idempotency"
	"github.com/punchamoorthee/tcr/internal/models"
	"github.com/punchamoorthee/tcr/internal/runtime"
)

const maxBodyBytes = 64 << 10

// errBadRequest marks decoding and validation failures of the request itself.
var errBadRequest = errors.New("bad request")

type callBuilder func(r *http.Request, body []byte) (runtime.Call, error)

// apply runs one transition for the authenticated caller. When the request
// carries an Idempotency-Key, a retry with the same body replays the first
// response and a retry with a different body is refused.
func (h *Handler) apply(w http.ResponseWriter, r *http.Request, successStatus int, build callBuilder) {
	ctx := r.Context()
	caller := callerFrom(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Stream read error")
		return
	}

	call, err := build(r, body)
	if err != nil {
		code := http.StatusBadRequest
		if !errors.Is(err, errBadRequest) {
			code = http.StatusUnprocessableEntity
		}
		respondWithError(w, code, err.Error())
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		idemKey = string(caller) + ":" + idemKey
		sum := sha256.Sum256(append([]byte(r.Method+" "+r.URL.Path+"\n"), body...))
		existing, err := h.idem.Reserve(ctx, idemKey, hex.EncodeToString(sum[:]))
		switch {
		case errors.Is(err, idempotency.ErrConflict):
			respondWithError(w, http.StatusConflict, "Request processing in progress")
			return
		case errors.Is(err, idempotency.ErrMismatch):
			respondWithError(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")
			return
		case err != nil:
			h.logger.Error("idempotency reserve failed", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		case existing != nil:
			respondWithRaw(w, existing.ResponseStatus, existing.ResponseBody)
			return
		}
	}

	rcpt, err := h.node.Apply(ctx, caller, call)
	if err != nil {
		if idemKey != "" {
			if relErr := h.idem.Release(ctx, idemKey); relErr != nil {
				h.logger.Warn("idempotency release failed", "error", relErr)
			}
		}
		h.respondWithDomainError(w, r, err)
		return
	}

	payload, err := json.Marshal(rcpt)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if idemKey != "" {
		if err := h.idem.Complete(ctx, idemKey, successStatus, payload); err != nil {
			h.logger.Warn("idempotency update failed", "error", err)
		}
	}
	if rcpt.Listing != nil && successStatus == http.StatusCreated {
		w.Header().Set("Location", "/api/v1/listings/"+rcpt.Listing.String())
	}
	respondWithRaw(w, successStatus, payload)
}

func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(r *http.Request, body []byte) (runtime.Call, error) {
		var req models.TransferRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		if req.Amount == 0 {
			return nil, errors.New("positive amount required")
		}
		if req.To == "" {
			return nil, fmt.Errorf("%w: recipient required", errBadRequest)
		}
		if req.To == callerFrom(r.Context()) {
			return nil, errors.New("self-transfer not allowed")
		}
		return runtime.TransferCall{To: req.To, Amount: req.Amount}, nil
	})
}

func (h *Handler) CreateApprovalHandler(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(r *http.Request, body []byte) (runtime.Call, error) {
		var req models.ApproveRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		if req.Spender == "" {
			return nil, fmt.Errorf("%w: spender required", errBadRequest)
		}
		return runtime.ApproveCall{Spender: req.Spender, Amount: req.Amount}, nil
	})
}

func (h *Handler) CreateDelegatedTransferHandler(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(r *http.Request, body []byte) (runtime.Call, error) {
		var req models.TransferFromRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		if req.From == "" || req.To == "" {
			return nil, fmt.Errorf("%w: from and to required", errBadRequest)
		}
		if req.Amount == 0 {
			return nil, errors.New("positive amount required")
		}
		return runtime.TransferFromCall{From: req.From, To: req.To, Amount: req.Amount}, nil
	})
}

func (h *Handler) ProposeHandler(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusCreated, func(r *http.Request, body []byte) (runtime.Call, error) {
		var req models.ProposeRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		switch {
		case req.Hash != nil && req.Data != nil:
			return nil, fmt.Errorf("%w: set either hash or data", errBadRequest)
		case req.Data != nil:
			return runtime.ProposeCall{Data: []byte(*req.Data), Deposit: req.Deposit}, nil
		case req.Hash != nil:
			return runtime.ProposeCall{Hash: *req.Hash, Deposit: req.Deposit}, nil
		default:
			return nil, fmt.Errorf("%w: hash or data required", errBadRequest)
		}
	})
}

func (h *Handler) ChallengeHandler(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusCreated, func(r *http.Request, body []byte) (runtime.Call, error) {
		hash, err := hashVar(r)
		if err != nil {
			return nil, err
		}
		var req models.ChallengeRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return runtime.ChallengeCall{Listing: hash, Deposit: req.Deposit}, nil
	})
}

func (h *Handler) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(r *http.Request, _ []byte) (runtime.Call, error) {
		hash, err := hashVar(r)
		if err != nil {
			return nil, err
		}
		return runtime.UpdateStatusCall{Listing: hash}, nil
	})
}

func (h *Handler) ExitHandler(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(r *http.Request, _ []byte) (runtime.Call, error) {
		hash, err := hashVar(r)
		if err != nil {
			return nil, err
		}
		return runtime.ExitCall{Listing: hash}, nil
	})
}

func (h *Handler) VoteHandler(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(r *http.Request, body []byte) (runtime.Call, error) {
		id, err := challengeVar(r)
		if err != nil {
			return nil, err
		}
		var req models.VoteRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return runtime.VoteCall{Challenge: id, Choice: req.Choice, Weight: req.Weight}, nil
	})
}

func (h *Handler) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(r *http.Request, _ []byte) (runtime.Call, error) {
		id, err := challengeVar(r)
		if err != nil {
			return nil, err
		}
		return runtime.ResolveCall{Challenge: id}, nil
	})
}

func (h *Handler) ClaimRewardHandler(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, http.StatusOK, func(r *http.Request, _ []byte) (runtime.Call, error) {
		id, err := challengeVar(r)
		if err != nil {
			return nil, err
		}
		return runtime.ClaimRewardCall{Challenge: id}, nil
	})
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", errBadRequest)
	}
	return nil
}

func hashVar(r *http.Request) (domain.Hash, error) {
	hash, err := domain.ParseHash(mux.Vars(r)["hash"])
	if err != nil {
		return hash, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return hash, nil
}

func challengeVar(r *http.Request) (domain.ChallengeID, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid challenge id", errBadRequest)
	}
	return domain.ChallengeID(id), nil
}
