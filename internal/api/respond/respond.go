// Package respond holds the JSON response helpers shared by all handlers.
package respond

import (
	"encoding/json"
	"net/http"
)

type successResponse struct {
	Data any `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// OK writes a 200 response with the given payload.
func OK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, successResponse{Data: data})
}

// Created writes a 201 response with the given payload.
func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, successResponse{Data: data})
}

// Fail writes an error response with the given status code.
func Fail(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
