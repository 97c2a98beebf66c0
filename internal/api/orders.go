package api

import (
	"errors"
	"net/http"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/db"
	"storefront/internal/models"
	"storefront/internal/session"
)

type OrderHandler struct {
	orders   *db.OrderRepository
	sessions *session.Manager
	cookies  cookieSettings
}

func NewOrderHandler(orders *db.OrderRepository, sessions *session.Manager, cookies cookieSettings) *OrderHandler {
	return &OrderHandler{orders: orders, sessions: sessions, cookies: cookies}
}

// CreateOrderRequest places an order. Visitors without a session supply
// contact details and are signed in as guests.
type CreateOrderRequest struct {
	ServiceID string  `json:"serviceId" validate:"required"`
	Tier      string  `json:"tier" validate:"required,oneof=basic standard premium"`
	Name      string  `json:"name" validate:"max=100"`
	Email     string  `json:"email" validate:"omitempty,email,max=254"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
}

type OrderResponse struct {
	Order *models.Order `json:"order"`
	User  *models.User  `json:"user"`
}

// POST /api/v1/orders
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	buyer, err := h.buyer(w, r, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	order, err := h.orders.Create(r.Context(), req.ServiceID, models.Tier(req.Tier), buyer.ID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Service not found")
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, OrderResponse{Order: order, User: buyer})
}

// buyer returns the signed-in user, or promotes the visitor to a guest and
// sets their session cookies.
func (h *OrderHandler) buyer(w http.ResponseWriter, r *http.Request, req CreateOrderRequest) (*models.User, error) {
	if token := accessTokenFromRequest(r); token != "" {
		user, err := h.sessions.Authenticate(r.Context(), token)
		if err == nil {
			return user, nil
		}
		if strings.TrimSpace(req.Email) == "" {
			return nil, err
		}
	}

	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Name) == "" {
		return nil, apperr.New(apperr.Unauthorized, "Sign in or provide a name and email to order")
	}

	sess, err := h.sessions.PromoteGuest(r.Context(), session.GuestContact{
		Name:  sanitizeText(req.Name),
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		return nil, err
	}
	h.cookies.setSession(w, sess)
	return sess.User, nil
}

// GET /api/v1/orders
func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListForBuyer(r.Context(), GetUser(r).ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}
