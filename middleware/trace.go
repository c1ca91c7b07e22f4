package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "github.com/crimedesk/authclient"

// Trace starts a client span around every request. A nil tp uses the global
// tracer provider.
func Trace(tp trace.TracerProvider, name string) Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if name == "" {
		name = defaultTracerName
	}
	tracer := tp.Tracer(name)

	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			ctx, span := tracer.Start(
				req.Context(),
				"HTTP "+req.Method,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("url.path", req.URL.Path),
					attribute.String("server.address", req.URL.Host),
				),
			)
			defer span.End()

			if id := req.Header.Get(HeaderRequestID); id != "" {
				span.SetAttributes(attribute.String("http.request.id", id))
			}

			resp, err := next.Do(req.WithContext(ctx))
			if err != nil {
				var apiErr *APIError
				if asAPIError(err, &apiErr) {
					span.SetAttributes(attribute.Int("http.response.status_code", apiErr.Status))
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
			if resp.StatusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
			}
			return resp, nil
		})
	}
}
