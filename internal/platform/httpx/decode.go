package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBodyBytes bounds request bodies decoded through DecodeJSON.
const DefaultMaxBodyBytes = 16 * 1024

// DecodeJSON reads a size-limited JSON body into dst. An empty body leaves dst
// untouched. The returned error is always an Error ready for WriteError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &tooLarge):
			return NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge)
		default:
			return NewError("invalid_request", fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest)
		}
	}
	return nil
}
