package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Response headers carrying machine-readable authentication signals.
const (
	BanRemainingHeader = "X-Auth-Ban-Remaining" // seconds until the ban expires
	ChallengeHeader    = "X-Auth-Challenge"     // required second-factor mechanism
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteBanned writes the lockout outcome: unauthorized plus the remaining
// ban duration, both as a header and in the structured body.
func WriteBanned(w http.ResponseWriter, remaining time.Duration) {
	seconds := int64(remaining.Round(time.Second) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	w.Header().Set(BanRemainingHeader, strconv.FormatInt(seconds, 10))
	WriteErrorWithDetails(w, http.StatusUnauthorized, "account_banned",
		"Too many failed login attempts", strconv.FormatInt(seconds, 10)+"s remaining")
}

// WriteSecondFactorRequired writes the missing-second-factor outcome with a
// challenge header naming the required mechanism.
func WriteSecondFactorRequired(w http.ResponseWriter, mechanism string) {
	w.Header().Set(ChallengeHeader, mechanism)
	WriteErrorWithDetails(w, http.StatusUnauthorized, "second_factor_required",
		"A second authentication factor is required", mechanism)
}
