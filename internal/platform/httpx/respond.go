package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxJSONBody caps request bodies read by DecodeJSON.
const MaxJSONBody = 1 << 20

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON decodes a JSON request body into target. Malformed bodies wrap
// ErrValidation and oversized ones ErrTooLarge.
func DecodeJSON(r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("empty body: %w", ErrValidation)
	}
	body := http.MaxBytesReader(nil, r.Body, MaxJSONBody)
	if err := json.NewDecoder(body).Decode(target); err != nil {
		var (
			syntaxErr *json.SyntaxError
			sizeErr   *http.MaxBytesError
		)
		switch {
		case errors.As(err, &sizeErr):
			return fmt.Errorf("body exceeds %d bytes: %w", sizeErr.Limit, ErrTooLarge)
		case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("malformed JSON: %w", ErrValidation)
		}
		return fmt.Errorf("decode JSON: %w: %w", err, ErrValidation)
	}
	return nil
}
