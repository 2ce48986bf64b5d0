package response

import (
	"net/http"

	"github.com/goccy/go-json"
)

type errorBody struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Messages []string `json:"messages"`
}

// WriteResponse encodes v as the JSON body of a 200 response
func WriteResponse(w http.ResponseWriter, r *http.Request, v interface{}) {
	writeJSON(w, http.StatusOK, v)
}

// WriteError renders e with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	writeJSON(w, e.StatusCode, errorBody{
		Status:   "error",
		Message:  e.Message,
		Messages: e.Messages,
	})
}

// WriteStatus acknowledges a request without a body
func WriteStatus(w http.ResponseWriter, r *http.Request, status int) {
	w.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads a JSON request body into v
func DecodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
