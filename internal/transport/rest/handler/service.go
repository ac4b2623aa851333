package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"omnirelay/internal/broker"
	"omnirelay/internal/model"
	"omnirelay/internal/relay"
	"omnirelay/internal/service"
	"omnirelay/internal/transport/rest/middleware"
)

// ServiceHandler handles service administration endpoints
type ServiceHandler struct {
	ids       *service.IdentityService
	lifecycle service.Lifecycle
	broker    broker.Broker
}

// NewServiceHandler creates a new service handler
func NewServiceHandler(ids *service.IdentityService, lifecycle service.Lifecycle, b broker.Broker) *ServiceHandler {
	return &ServiceHandler{
		ids:       ids,
		lifecycle: lifecycle,
		broker:    b,
	}
}

// List handles GET /v1/services
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	services, err := h.ids.ListServices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if services == nil {
		services = []*model.Service{}
	}
	writeJSON(w, http.StatusOK, services)
}

// Create handles POST /v1/services
func (h *ServiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.ServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	svc, err := h.ids.CreateService(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	log.Printf("Service %q created by %s", svc.Title, middleware.GetAdmin(r.Context()))
	writeJSON(w, http.StatusCreated, svc)
}

// Get handles GET /v1/services/{hostToken}
func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.ids.GetService(r.Context(), mux.Vars(r)["hostToken"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Update handles PUT /v1/services/{hostToken}
func (h *ServiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req model.ServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	svc, err := h.ids.UpdateService(r.Context(), mux.Vars(r)["hostToken"], &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	log.Printf("Service %q updated by %s", svc.Title, middleware.GetAdmin(r.Context()))
	writeJSON(w, http.StatusOK, svc)
}

// Delete handles DELETE /v1/services/{hostToken}
func (h *ServiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hostToken := mux.Vars(r)["hostToken"]
	if err := h.ids.DeleteService(r.Context(), hostToken); err != nil {
		writeServiceError(w, err)
		return
	}
	log.Printf("Service %s deleted by %s", hostToken, middleware.GetAdmin(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// Live handles GET /v1/services/{hostToken}/live
func (h *ServiceHandler) Live(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.ids.GetService(ctx, mux.Vars(r)["hostToken"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	live := &model.LiveView{Hosts: []string{}, Clients: []string{}, Guests: []string{}}
	scope, err := h.lifecycle.Lookup(ctx, view.Service, model.RoleHost, view.HostToken)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if scope == nil {
		writeJSON(w, http.StatusOK, live)
		return
	}
	live.Scope = scope

	for _, m := range []struct {
		role model.Role
		dst  *[]string
	}{
		{model.RoleHost, &live.Hosts},
		{model.RoleClient, &live.Clients},
		{model.RoleGuest, &live.Guests},
	} {
		group := broker.GroupName(m.role.Title(), scope.Key, scope.Code)
		names, err := h.broker.Members(ctx, group, broker.DefaultMemberLimit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if names != nil {
			*m.dst = names
		}
	}

	hostGroup := broker.GroupName(model.RoleHost.Title(), scope.Key, scope.Code)
	if _, err := h.broker.Get(ctx, hostGroup, relay.HostNameKey, &live.Host); err != nil {
		log.Printf("Reading host name for %s: %v", hostGroup, err)
	}

	writeJSON(w, http.StatusOK, live)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "service not found")
	case errors.Is(err, service.ErrInvalidTitle):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTitleTaken):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
