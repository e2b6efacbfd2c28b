// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"net/http"
	"net/url"
)

// Health returns the [HealthHandler] registered on mux at /health, creating it
// with the provided application name and version if necessary.
func Health(mux *http.ServeMux, app, version string) *HealthHandler {
	h, pat := mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/health"}})
	if hh, ok := h.(*HealthHandler); ok && pat == "GET /health" {
		return hh
	}
	ret := &HealthHandler{
		resp: HealthResponse{
			Status:  "healthy",
			App:     app,
			Version: version,
		},
	}
	mux.Handle("GET /health", ret)
	return ret
}

// HealthHandler is an HTTP handler that reports that the service is up.
// It always replies with the same [HealthResponse], regardless of the request.
type HealthHandler struct{ resp HealthResponse }

// HealthResponse represents a response of the /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	App     string `json:"app"`
	Version string `json:"version"`
}

// ServeHTTP implements the [http.Handler] interface.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, r, h.resp)
}
