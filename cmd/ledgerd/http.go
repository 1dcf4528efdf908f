package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	domain "github.com/R3E-Network/points_ledger/internal/domain/ledger"
	"github.com/R3E-Network/points_ledger/internal/ledger"
	"github.com/R3E-Network/points_ledger/internal/ledger/metrics"
	"github.com/R3E-Network/points_ledger/internal/ledger/store"
)

// maxSealedSize bounds the body of a sealed submission.
const maxSealedSize = 64 << 10

// apiResponse is the envelope every endpoint writes.
type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func newRouter(l *ledger.Ledger, collector *metrics.Collector, pinger store.Pinger) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler(pinger)).Methods(http.MethodGet)
	if l != nil {
		v1 := r.PathPrefix("/v1").Subrouter()
		v1.HandleFunc("/transactions/sealed", sealedHandler(l)).Methods(http.MethodPost)
		v1.HandleFunc("/balances/{account}", balanceHandler(l)).Methods(http.MethodGet)
	}
	return r
}

func healthHandler(pinger store.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, apiResponse{Error: err.Error(), Kind: string(domain.ErrorKindStoreFailure)})
				return
			}
		}
		writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: map[string]string{"status": "ok"}})
	}
}

// sealedHandler accepts a sealed transaction blob produced by another service.
func sealedHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blob, err := io.ReadAll(io.LimitReader(r.Body, maxSealedSize+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{Error: "failed to read body"})
			return
		}
		if len(blob) > maxSealedSize {
			writeJSON(w, http.StatusRequestEntityTooLarge, apiResponse{Error: "sealed transaction too large"})
			return
		}
		receipt, err := l.ProcessSealed(r.Context(), blob)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: receipt})
	}
}

func balanceHandler(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := mux.Vars(r)["account"]
		balance, err := l.Balance(r.Context(), account)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: map[string]any{
			"account": account,
			"balance": balance,
		}})
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, statusFor(kind), apiResponse{Error: err.Error(), Kind: string(kind)})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindRuleViolation, domain.ErrorKindDecode:
		return http.StatusBadRequest
	case domain.ErrorKindSignatureInvalid, domain.ErrorKindExpired:
		return http.StatusUnauthorized
	case domain.ErrorKindAlreadyConsumed, domain.ErrorKindFlaggedForReview:
		// The body's kind tells a replay apart from a transaction held for review.
		return http.StatusConflict
	case domain.ErrorKindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case domain.ErrorKindStoreFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
