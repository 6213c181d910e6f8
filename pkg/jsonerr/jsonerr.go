// Package jsonerr provides a uniform JSON error response body for HTTP
// handlers across the build pipeline's admin API and the resolver's status
// endpoints.
package jsonerr

import (
	"encoding/json"
	"net/http"
)

// Additional is arbitrary, JSON-serializable extra detail on a Response.
type Additional interface{}

// Response is the JSON body written by [Error].
type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Additional `json:"additional,omitempty"`
}

// Error works like [http.Error] but writes r as a JSON body. Callers must
// still `return` after calling Error.
func Error(w http.ResponseWriter, r *Response, httpcode int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpcode)
	b, _ := json.Marshal(r)
	w.Write(b)
}
