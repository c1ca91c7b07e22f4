package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// HeaderRequestID carries the per-request correlation ID.
const HeaderRequestID = "X-Request-ID"

// RequestID sets X-Request-ID to a random UUID when the caller did not.
func RequestID() Middleware {
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get(HeaderRequestID) != "" {
				return next.Do(req)
			}
			out := req.Clone(req.Context())
			out.Header.Set(HeaderRequestID, uuid.NewString())
			return next.Do(out)
		})
	}
}
