package middleware

import (
	"errors"
	"net/http"
	"time"
)

// Observation is one completed request as seen by Observe.
type Observation struct {
	Method   string
	Path     string
	Status   int
	Duration time.Duration
	Err      error
}

// Observe reports every request to fn after it completes. Status is taken
// from the response or from an *APIError; it is 0 when no response arrived.
func Observe(fn func(Observation)) Middleware {
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.Do(req)

			o := Observation{
				Method:   req.Method,
				Path:     req.URL.Path,
				Duration: time.Since(start),
				Err:      err,
			}
			var apiErr *APIError
			switch {
			case resp != nil:
				o.Status = resp.StatusCode
			case asAPIError(err, &apiErr):
				o.Status = apiErr.Status
			}
			if fn != nil {
				fn(o)
			}
			return resp, err
		})
	}
}

func asAPIError(err error, target **APIError) bool {
	return err != nil && errors.As(err, target)
}
