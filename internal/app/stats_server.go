package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"insiderwatch/config"
	"insiderwatch/internal/insider"
	"insiderwatch/internal/store"
)

// startHealthServer starts an HTTP server for health checks, stats and the
// alert review API.
func (r *Runner) startHealthServer(port int) {
	r.healthServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.clients.Logger.Error("health server error", zap.Error(err))
		}
	}()
}

func (r *Runner) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, r.GetStats(req.Context()))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(r.metrics.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /suspects", r.handleSuspects)
	mux.HandleFunc("GET /alerts", r.handleListAlerts)
	mux.HandleFunc("GET /alerts/{id}", r.handleGetAlert)
	mux.HandleFunc("POST /alerts/{id}/status", r.requireAdmin(r.handleAlertStatus))
	mux.HandleFunc("GET /accounts", r.handleListAccounts)
	mux.HandleFunc("GET /accounts/{address}", r.handleGetAccount)
	mux.HandleFunc("GET /config", r.handleGetConfig)
	mux.HandleFunc("PUT /config", r.requireAdmin(r.handleUpdateConfig))

	return mux
}

// requireAdmin checks the bearer token when one is configured.
func (r *Runner) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.authorized(req) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, req)
	}
}

func (r *Runner) authorized(req *http.Request) bool {
	token := r.liveConfig.Get().HealthServer.AdminToken
	if token == "" {
		return true
	}
	got := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

// handleSuspects returns the latest ranked suspects for ?market=, scanning
// on demand when the market has no result yet or refresh=true. Scans write
// alerts and notify, so they need the admin token. Without a market it
// returns every stored result.
func (r *Runner) handleSuspects(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	marketID := strings.TrimSpace(q.Get("market"))
	if marketID == "" {
		r.mu.RLock()
		results := make([]*MarketResult, 0, len(r.results))
		for _, res := range r.results {
			results = append(results, res)
		}
		r.mu.RUnlock()
		writeJSON(w, http.StatusOK, results)
		return
	}

	refresh, _ := strconv.ParseBool(q.Get("refresh"))
	if res, ok := r.LastResult(marketID); ok && !refresh && res.Error == "" {
		writeJSON(w, http.StatusOK, res)
		return
	}

	if !r.authorized(req) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Minute)
	defer cancel()

	res, err := r.ScanMarket(ctx, marketID, refresh)
	if errors.Is(err, insider.ErrMarketNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Runner) handleListAlerts(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	filter := store.AlertFilter{MarketID: q.Get("market")}

	if s := q.Get("status"); s != "" {
		status, ok := store.ParseAlertStatus(s)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status "+s)
			return
		}
		filter.Status = status
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if s := q.Get("account"); s != "" {
		acct, err := r.store.GetAccount(req.Context(), s)
		if errors.Is(err, store.ErrAccountNotFound) {
			writeJSON(w, http.StatusOK, []store.Alert{})
			return
		}
		if err != nil {
			r.internalError(w, "get account", err)
			return
		}
		filter.AccountID = acct.ID
	}

	alerts, err := r.store.ListAlerts(req.Context(), filter)
	if err != nil {
		r.internalError(w, "list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (r *Runner) handleGetAlert(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(req.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	alert, err := r.store.GetAlert(req.Context(), id)
	if errors.Is(err, store.ErrAlertNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		r.internalError(w, "get alert", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (r *Runner) handleAlertStatus(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(req.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	var body statusRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	status, ok := store.ParseAlertStatus(body.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status "+body.Status)
		return
	}

	alert, err := r.store.TransitionAlert(req.Context(), id, status)
	switch {
	case errors.Is(err, store.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		r.internalError(w, "transition alert", err)
	default:
		writeJSON(w, http.StatusOK, alert)
	}
}

func (r *Runner) handleListAccounts(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if s := req.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	accounts, err := r.store.ListFlaggedAccounts(req.Context(), limit)
	if err != nil {
		r.internalError(w, "list accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (r *Runner) handleGetAccount(w http.ResponseWriter, req *http.Request) {
	acct, err := r.store.GetAccount(req.Context(), req.PathValue("address"))
	if errors.Is(err, store.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		r.internalError(w, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (r *Runner) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.liveConfig.Get())
}

// handleUpdateConfig decodes the body over the current config, so partial
// documents only change the fields they name.
func (r *Runner) handleUpdateConfig(w http.ResponseWriter, req *http.Request) {
	next := r.liveConfig.Get()
	if err := json.NewDecoder(req.Body).Decode(next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := r.liveConfig.Update(next); err != nil {
		var verr *config.ConfigValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"errors":  verr.Errors,
			})
			return
		}
		r.internalError(w, "update config", err)
		return
	}

	r.clients.Logger.Info("config updated via API")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"applied_at": time.Now().UTC(),
	})
}

func (r *Runner) internalError(w http.ResponseWriter, op string, err error) {
	r.clients.Logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
