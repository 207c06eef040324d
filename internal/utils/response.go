package utils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"ms-conference-ticketing/internal/apperror"
)

type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err with the status of its kind. Errors outside the
// taxonomy become a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, apperror.HTTPStatus(err), ErrorBody{Error: apperror.Message(err)})
}

// DecodeJSON reads a JSON body, rejecting unknown fields.
func DecodeJSON(r *http.Request, v interface{}) error {
	return decode(r, v, false)
}

// DecodeOptionalJSON is DecodeJSON for requests whose body may be absent,
// including chunked requests that send no bytes. v is left untouched then.
func DecodeOptionalJSON(r *http.Request, v interface{}) error {
	return decode(r, v, true)
}

func decode(r *http.Request, v interface{}, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return apperror.Validation("request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return apperror.Validation("invalid request body")
	}
	return nil
}
