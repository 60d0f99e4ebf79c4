package middleware

import (
	"net/http"
	"slices"
)

// Chain wraps h so that a request passes through middlewares in the order
// given; the first one listed sees the request first.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, wrap := range slices.Backward(middlewares) {
		h = wrap(h)
	}
	return h
}
