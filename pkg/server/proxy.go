package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/nstogner/forge/pkg/sandbox"
)

// handleProxy forwards preview traffic to the project's application.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if s.sandbox == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, errNoSandbox)
		return
	}

	id := r.PathValue("id")
	port, err := s.sandbox.HostPort(r.Context(), id)
	if errors.Is(err, sandbox.ErrNotRunning) {
		s.errorResponse(w, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, err)
		return
	}

	target := &url.URL{Scheme: "http", Host: "127.0.0.1:" + port}
	path := "/" + r.PathValue("path")
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = path
			pr.Out.URL.RawPath = ""
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Warn("Preview proxy error", "projectID", id, "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	proxy.ServeHTTP(w, r)
}
