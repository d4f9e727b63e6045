// Package httpserver exposes the public HTTP API: auth, lot catalog, order
// checkout, and payment provider callbacks.
package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/MarchenkoRuslan/faberge-egg/errs"
	"github.com/MarchenkoRuslan/faberge-egg/internal/auth"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/catalog"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/orderstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/userstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/gateway"
	"github.com/MarchenkoRuslan/faberge-egg/internal/intake"
	"github.com/MarchenkoRuslan/faberge-egg/internal/observability"
	"github.com/MarchenkoRuslan/faberge-egg/internal/webhook"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	registerPath       = "/auth/register"
	loginPath          = "/auth/login"
	mePath             = "/auth/me"
	lotsPath           = "/lots"
	lotDetailPrefix    = lotsPath + "/"
	ordersPath         = "/orders"
	orderDetailPrefix  = ordersPath + "/"
	paymentMethodsPath = ordersPath + "/payment-methods"
	myOrdersPath       = ordersPath + "/me"
	webhookPrefix      = "/webhooks/"
	healthPath         = "/healthz"

	signatureHeader = "X-Signature"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// Pinger reports storage connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type httpServer struct {
	auth     *auth.Service
	lots     catalog.Store
	orders   orderstore.Store
	intake   *intake.Service
	webhooks *webhook.Ingress
	gateways *gateway.Registry
	db       Pinger
	logger   observability.Logger
}

// NewHandler creates the HTTP handler for the marketplace API.
func NewHandler(authSvc *auth.Service, lots catalog.Store, orders orderstore.Store, intakeSvc *intake.Service, webhooks *webhook.Ingress, gateways *gateway.Registry, db Pinger, corsOrigins []string, logger observability.Logger) http.Handler {
	if logger == nil {
		logger = observability.Log()
	}
	server := &httpServer{
		auth:     authSvc,
		lots:     lots,
		orders:   orders,
		intake:   intakeSvc,
		webhooks: webhooks,
		gateways: gateways,
		db:       db,
		logger:   logger,
	}
	mux := http.NewServeMux()

	mux.Handle(registerPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.register,
	}))
	mux.Handle(loginPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.login,
	}))
	mux.Handle(mePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.requireUser(server.me),
	}))

	mux.Handle(lotsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listLots,
	}))
	mux.Handle(lotDetailPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getLot,
	}))

	mux.Handle(ordersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.requireUser(server.createOrder),
	}))
	mux.Handle(paymentMethodsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.paymentMethods,
	}))
	mux.Handle(myOrdersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.requireUser(server.myOrders),
	}))
	mux.Handle(orderDetailPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.requireUser(server.orderStatus),
	}))

	mux.Handle(webhookPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.handleWebhook,
	}))

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))

	return withCORS(mux, corsOrigins)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

type authedHandler func(http.ResponseWriter, *http.Request, userstore.User)

// requireUser resolves the bearer token before invoking the handler.
func (s *httpServer) requireUser(next authedHandler) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		user, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		next(w, r, user)
	}
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID              int64  `json:"id"`
	Email           string `json:"email"`
	IsEmailVerified bool   `json:"is_email_verified"`
}

func toUserResponse(user userstore.User) userResponse {
	return userResponse{ID: user.ID, Email: user.Email, IsEmailVerified: user.IsEmailVerified}
}

func (s *httpServer) register(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload credentialsPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	user, err := s.auth.Register(r.Context(), payload.Email, payload.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *httpServer) login(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload credentialsPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	token, user, err := s.auth.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user":         toUserResponse(user),
	})
}

func (s *httpServer) me(w http.ResponseWriter, _ *http.Request, user userstore.User) {
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type lotResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	TotalFractions int64  `json:"total_fractions"`
	SpecialCap     int64  `json:"special_cap"`
	Remaining      int64  `json:"remaining_special"`
	PriceSpecial   string `json:"price_special"`
	PriceNominal   string `json:"price_nominal"`
}

func toLotResponse(lot catalog.Lot) lotResponse {
	return lotResponse{
		ID:             lot.ID,
		Name:           lot.Name,
		Slug:           lot.Slug,
		TotalFractions: lot.TotalFractions,
		SpecialCap:     lot.SpecialCap,
		Remaining:      lot.Remaining(),
		PriceSpecial:   lot.PriceSpecial.String(),
		PriceNominal:   lot.PriceNominal.String(),
	}
}

func (s *httpServer) listLots(w http.ResponseWriter, r *http.Request) {
	lots, err := s.lots.ListActive(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]lotResponse, 0, len(lots))
	for _, lot := range lots {
		out = append(out, toLotResponse(lot))
	}
	writeJSON(w, http.StatusOK, map[string]any{"lots": out})
}

func (s *httpServer) getLot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r.URL.Path, lotDetailPrefix)
	if !ok {
		return
	}
	lot, found, err := s.lots.GetActive(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "lot not found")
		return
	}
	writeJSON(w, http.StatusOK, toLotResponse(lot))
}

func (s *httpServer) paymentMethods(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"methods": s.gateways.Methods()})
}

type createOrderPayload struct {
	LotID         int64  `json:"lot_id"`
	FractionCount int64  `json:"fraction_count"`
	PaymentMethod string `json:"payment_method"`
	ReturnURL     string `json:"return_url,omitempty"`
	CancelURL     string `json:"cancel_url,omitempty"`
}

type orderResponse struct {
	ID                int64  `json:"id"`
	LotID             int64  `json:"lot_id"`
	FractionCount     int64  `json:"fraction_count"`
	AmountCents       int64  `json:"amount_cents"`
	PaymentMethod     string `json:"payment_method"`
	Status            string `json:"status"`
	ExternalPaymentID string `json:"external_payment_id,omitempty"`
}

func toOrderResponse(order orderstore.Order) orderResponse {
	return orderResponse{
		ID:                order.ID,
		LotID:             order.LotID,
		FractionCount:     order.FractionCount,
		AmountCents:       order.AmountCents,
		PaymentMethod:     order.PaymentMethod,
		Status:            string(order.Status),
		ExternalPaymentID: order.ExternalPaymentID,
	}
}

func (s *httpServer) createOrder(w http.ResponseWriter, r *http.Request, user userstore.User) {
	limitRequestBody(w, r)
	var payload createOrderPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	if payload.LotID <= 0 || payload.FractionCount <= 0 {
		writeError(w, http.StatusBadRequest, "lot_id and fraction_count must be positive")
		return
	}
	checkout, err := s.intake.CreateOrder(r.Context(), intake.Request{
		UserID:        user.ID,
		LotID:         payload.LotID,
		FractionCount: payload.FractionCount,
		Method:        strings.ToLower(strings.TrimSpace(payload.PaymentMethod)),
		ReturnURL:     strings.TrimSpace(payload.ReturnURL),
		CancelURL:     strings.TrimSpace(payload.CancelURL),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order":       toOrderResponse(checkout.Order),
		"payment_url": checkout.RedirectURL,
	})
}

func (s *httpServer) myOrders(w http.ResponseWriter, r *http.Request, user userstore.User) {
	orders, err := s.orders.ListUserOrders(r.Context(), user.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (s *httpServer) orderStatus(w http.ResponseWriter, r *http.Request, user userstore.User) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, orderDetailPrefix), "/")
	idPart, action, hasAction := strings.Cut(rest, "/")
	if hasAction && action != "status" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "order id must be a positive integer")
		return
	}
	order, found, err := s.orders.GetOrderForUser(r.Context(), id, user.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *httpServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := strings.Trim(strings.TrimPrefix(r.URL.Path, webhookPrefix), "/")
	if provider == "" {
		writeError(w, http.StatusNotFound, "provider required")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}
	if err := s.webhooks.Handle(r.Context(), provider, r.Header.Get(signatureHeader), body); err != nil {
		var envelope *errs.E
		if errors.As(err, &envelope) {
			writeError(w, envelope.Status(), envelope.Message)
			return
		}
		s.logger.Error("webhook processing failed",
			observability.F("provider", provider),
			observability.F("error", err))
		writeError(w, http.StatusServiceUnavailable, "temporarily unable to process callback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *httpServer) health(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps service errors onto the HTTP error contract.
func (s *httpServer) writeServiceError(w http.ResponseWriter, err error) {
	var envelope *errs.E
	if errors.As(err, &envelope) {
		writeJSON(w, envelope.Status(), map[string]any{
			"status": "error",
			"error":  envelope.Message,
			"code":   string(envelope.Code),
		})
		return
	}
	s.logger.Error("internal error", observability.F("error", err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func pathID(w http.ResponseWriter, path, prefix string) (int64, bool) {
	raw := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	}
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(dst)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid JSON payload")
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler, origins []string) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			allowAll = true
		} else if trimmed != "" {
			allowed[trimmed] = true
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+signatureHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
