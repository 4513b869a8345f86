package internal

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flipit_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flipit_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const defaultLeaderboardSize = 10

type Handler struct {
	log   slog.Logger
	query *BetQuery
}

func NewHandler(q *BetQuery, log slog.Logger) *Handler {
	return &Handler{log: log, query: q}
}

// Router mounts the read API, health check and metrics.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/leaderboard", h.Leaderboard).Methods("GET")
	apiV1.HandleFunc("/players/{address}/bets", h.PlayerBets).Methods("GET")
	apiV1.HandleFunc("/bets/pending", h.PendingBets).Methods("GET")
	apiV1.HandleFunc("/bets/{mode}/{id}", h.GetBet).Methods("GET")
	return r
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/leaderboard"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	token := r.URL.Query().Get("token")
	if token != "" && !common.IsHexAddress(token) {
		h.respondError(w, http.StatusBadRequest, "Invalid token address", endpoint)
		return
	}
	limit, ok := intParam(r, "limit", defaultLeaderboardSize)
	if !ok || limit <= 0 || limit > 100 {
		h.respondError(w, http.StatusBadRequest, "Invalid limit", endpoint)
		return
	}

	entries, err := h.query.Leaderboard(r.Context(), token, limit)
	if err != nil {
		h.internalError(w, err, endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, entries, endpoint)
}

func (h *Handler) PlayerBets(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/players/{address}/bets"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	address := mux.Vars(r)["address"]
	if !common.IsHexAddress(address) {
		h.respondError(w, http.StatusBadRequest, "Invalid address", endpoint)
		return
	}
	limit, ok := intParam(r, "limit", 50)
	if !ok || limit <= 0 {
		h.respondError(w, http.StatusBadRequest, "Invalid limit", endpoint)
		return
	}
	f := PlayerBetFilter{Role: strings.ToLower(r.URL.Query().Get("role")), Limit: limit}
	if !ValidRole(f.Role) {
		h.respondError(w, http.StatusBadRequest, "Role must be created, joined or won", endpoint)
		return
	}
	if states := r.URL.Query().Get("state"); states != "" {
		for _, name := range strings.Split(states, ",") {
			s, ok := ParseBetState(strings.TrimSpace(name))
			if !ok {
				h.respondError(w, http.StatusBadRequest, "Invalid state "+strconv.Quote(name), endpoint)
				return
			}
			f.States = append(f.States, s)
		}
	}

	bets, err := h.query.PlayerBets(r.Context(), address, f)
	if err != nil {
		h.internalError(w, err, endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, betViews(bets), endpoint)
}

func (h *Handler) PendingBets(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/bets/pending"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	page, ok := intParam(r, "page", 1)
	if !ok || page < 1 {
		h.respondError(w, http.StatusBadRequest, "Invalid page", endpoint)
		return
	}

	bets, pages, err := h.query.PendingBets(r.Context(), page, 0)
	if err != nil {
		h.internalError(w, err, endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"page":  page,
		"pages": pages,
		"bets":  betViews(bets),
	}, endpoint)
}

func (h *Handler) GetBet(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/bets/{mode}/{id}"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	vars := mux.Vars(r)
	mode := strings.ToLower(vars["mode"])
	if mode != ModePvC && mode != ModePvP {
		h.respondError(w, http.StatusBadRequest, "Mode must be pvc or pvp", endpoint)
		return
	}
	id, ok := parseBetID(vars["id"])
	if !ok || id.Sign() < 0 {
		h.respondError(w, http.StatusBadRequest, "Invalid bet id", endpoint)
		return
	}

	bet, err := h.query.GetBet(r.Context(), mode, id.String())
	if err != nil {
		h.internalError(w, err, endpoint)
		return
	}
	if bet == nil {
		h.respondError(w, http.StatusNotFound, "Not Found", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, newBetView(bet), endpoint)
}

// BetView is the JSON shape of an indexed bet.
type BetView struct {
	Mode       string `json:"mode"`
	BetID      string `json:"betId"`
	Player1    string `json:"player1"`
	Player2    string `json:"player2,omitempty"`
	Token      string `json:"token"`
	Amount     string `json:"amount"`
	Face       string `json:"face"`
	Outcome    string `json:"outcome,omitempty"`
	Winner     string `json:"winner,omitempty"`
	Payout     string `json:"payout,omitempty"`
	Profit     string `json:"profit,omitempty"`
	State      string `json:"state"`
	Won        bool   `json:"won"`
	TxHash     string `json:"txHash,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	ExpiresAt  int64  `json:"expiresAt,omitempty"`
	ResolvedAt int64  `json:"resolvedAt,omitempty"`
}

func faceName(heads bool) string {
	if heads {
		return "Heads"
	}
	return "Tails"
}

func newBetView(b *Bet) BetView {
	v := BetView{
		Mode:       b.Mode,
		BetID:      b.BetID,
		Player1:    b.Player1,
		Player2:    b.Player2,
		Token:      b.Token,
		Amount:     b.Amount,
		Face:       faceName(b.Face),
		Winner:     b.Winner,
		Payout:     b.Payout,
		State:      b.State.String(),
		Won:        b.Won,
		TxHash:     b.TxHash,
		Timestamp:  b.Timestamp,
		ExpiresAt:  b.ExpiresAt,
		ResolvedAt: b.ResolvedAt,
	}
	if b.State == BetStateFulfilled {
		v.Outcome = faceName(b.Outcome)
	}
	if p, ok := b.Profit(); ok {
		v.Profit = p.String()
	}
	return v
}

func betViews(bets []*Bet) []BetView {
	out := make([]BetView, 0, len(bets))
	for _, b := range bets {
		out = append(out, newBetView(b))
	}
	return out
}

func intParam(r *http.Request, name string, def int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func (h *Handler) internalError(w http.ResponseWriter, err error, endpoint string) {
	h.log.Errorf("GET %s: %v", endpoint, err)
	h.respondError(w, http.StatusInternalServerError, "Internal error", endpoint)
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, endpoint string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
	httpReqTotal.WithLabelValues("GET", endpoint, strconv.Itoa(code)).Inc()
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg string, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, endpoint)
}
