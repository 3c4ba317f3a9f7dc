package library

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"eventflux/pkg/dlq"
	"eventflux/pkg/engine"
)

// Store is the concrete engine.Store type this HTTP layer drives.
type Store = engine.Store[State, Action, Env]

// Server is the illustrative HTTP consumer (SPEC_FULL.md §3): chi
// routing replaces the teacher's bare http.NewServeMux per-service
// mains, and a token-bucket limiter (golang.org/x/time/rate) guards the
// login endpoint, generalizing internal/membership/implementation.go's
// single hard-coded rate.NewLimiter into per-handler configuration.
type Server struct {
	store     *Store
	dlqQueue  dlq.Queue
	loginRate *rate.Limiter
	router    chi.Router
}

// NewServer builds the chi router over store.
func NewServer(store *Store, dlqQueue dlq.Queue, loginRate *rate.Limiter) *Server {
	s := &Server{store: store, dlqQueue: dlqQueue, loginRate: loginRate}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/items", func(r chi.Router) {
		r.Post("/", s.handleAddItem)
		r.Patch("/{id}", s.handleUpdateItemCopies)
		r.Delete("/{id}", s.handleRemoveItem)
	})
	r.Route("/checkouts", func(r chi.Router) {
		r.Post("/", s.handleCheckOut)
		r.Post("/{id}/return", s.handleReturn)
	})
	r.Route("/members", func(r chi.Router) {
		r.Post("/", s.handleRegisterMember)
		r.Post("/login", s.handleLogin)
		r.Patch("/{id}/tier", s.handleUpdateTier)
	})
	r.Get("/healthz", s.handleHealth)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func correlationID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ISBN        string `json:"isbn"`
		Title       string `json:"title"`
		Author      string `json:"author"`
		TotalCopies int    `json:"total_copies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := uuid.New()
	action := Action{
		Kind:          KindAddItem,
		ID:            uuid.NewString(),
		CorrelationID: correlationID(r),
		AddItem:       &AddItemCmd{ID: id, ISBN: req.ISBN, Title: req.Title, Author: req.Author, TotalCopies: req.TotalCopies},
	}
	if err := s.store.Send(r.Context(), action); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String()})
}

func (s *Server) handleUpdateItemCopies(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}
	var req struct {
		TotalCopies int `json:"total_copies"`
		Available   int `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	action := Action{
		Kind:             KindUpdateItemCopies,
		ID:               uuid.NewString(),
		CorrelationID:    correlationID(r),
		UpdateItemCopies: &UpdateItemCopiesCmd{ID: id, NewTotal: req.TotalCopies, NewAvailable: req.Available},
	}
	if err := s.store.Send(r.Context(), action); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}
	action := Action{Kind: KindRemoveItem, ID: uuid.NewString(), CorrelationID: correlationID(r), RemoveItem: &RemoveItemCmd{ID: id}}
	if err := s.store.Send(r.Context(), action); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID uuid.UUID `json:"member_id"`
		ItemID   uuid.UUID `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := uuid.New()
	action := Action{
		Kind:          KindCheckOutItem,
		ID:            uuid.NewString(),
		CorrelationID: correlationID(r),
		CheckOutItem:  &CheckOutItemCmd{CheckoutID: id, MemberID: req.MemberID, ItemID: req.ItemID},
	}
	if err := s.store.Send(r.Context(), action); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"checkout_id": id.String()})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid checkout id", http.StatusBadRequest)
		return
	}
	action := Action{Kind: KindReturnItem, ID: uuid.NewString(), CorrelationID: correlationID(r), ReturnItem: &ReturnItemCmd{CheckoutID: id}}
	if err := s.store.Send(r.Context(), action); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := uuid.New()
	action := Action{
		Kind:           KindRegisterMember,
		ID:             uuid.NewString(),
		CorrelationID:  correlationID(r),
		RegisterMember: &RegisterMemberCmd{ID: id, Email: req.Email, Name: req.Name, Password: req.Password},
	}
	if err := s.store.Send(r.Context(), action); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String()})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.loginRate != nil && !s.loginRate.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resultCh := make(chan AuthResult, 1)
	action := Action{
		Kind:          KindAuthenticate,
		ID:            uuid.NewString(),
		CorrelationID: correlationID(r),
		Authenticate:  &AuthenticateCmd{Email: req.Email, Password: req.Password, ResultCh: resultCh},
	}
	if err := s.store.Send(r.Context(), action); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	select {
	case res := <-resultCh:
		if res.Err != nil {
			http.Error(w, res.Err.Error(), http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "member_id": res.Member.ID.String()})
	case <-ctx.Done():
		http.Error(w, "authentication timed out", http.StatusGatewayTimeout)
	}
}

func (s *Server) handleUpdateTier(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid member id", http.StatusBadRequest)
		return
	}
	var req struct {
		NewTier string `json:"new_tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	action := Action{Kind: KindUpdateMemberTier, ID: uuid.NewString(), CorrelationID: correlationID(r), UpdateMemberTier: &UpdateMemberTierCmd{ID: id, NewTier: req.NewTier}}
	if err := s.store.Send(r.Context(), action); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleHealth reports the dead-letter queue's pending count, matching
// spec.md §7's "dedicated pending-count endpoint" requirement.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.dlqQueue != nil {
		n, err := s.dlqQueue.CountPending(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp["dlq_pending"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}
