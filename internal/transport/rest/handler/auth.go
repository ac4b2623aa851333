package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"omnirelay/internal/model"
	"omnirelay/internal/service"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authSvc *service.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Login handles POST /v1/auth/login and returns an admin JWT
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	resp, err := h.authSvc.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		log.Printf("Admin login rejected for %q from %s", req.Username, r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		log.Printf("Admin login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	log.Printf("Admin %s logged in", resp.Username)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Writing response: %v", err)
	}
}

// writeError replies with {"error": message}
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
