package handlers

import (
	"encoding/json"
	"net/http"
)

const (
	errBadRequest         = "bad request"
	errServerError        = "internal server error"
	errServiceUnavailable = "tracker unavailable"
	errBusy               = "tracker busy"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
