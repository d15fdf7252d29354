package server

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/vivid-go/vivid/pkg/live"
	"github.com/vivid-go/vivid/pkg/token"
)

// shellTemplate is the HTML document wrapping a disconnected render. The
// client runtime picks up the token and dials LivePath to go live.
var shellTemplate = template.Must(template.New("shell").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<div id="vivid-root" data-vivid-token="{{.Token}}" data-vivid-uri="{{.URI}}"></div>
<script>window.vivid = {endpoint: {{.Endpoint}}, token: {{.Token}}, uri: {{.URI}}, assigns: {{.Assigns}}};</script>
</body>
</html>
`))

type shellData struct {
	Title    string
	Token    string
	URI      string
	Endpoint string
	Assigns  map[string]any
}

// handleStatic serves the disconnected rendition of a route: run the
// view's mount synchronously, seal the mount data into a session token,
// and emit the HTML shell the client runtime resumes from.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Path
	if r.URL.RawQuery != "" {
		uri += "?" + r.URL.RawQuery
	}

	var session map[string]any
	if s.config.SessionFunc != nil {
		session = s.config.SessionFunc(r)
	}

	result, err := s.runtime.RenderStatic(uri, session)
	if err != nil {
		if errors.Is(err, live.ErrRouteNotFound) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("static render failed", "uri", uri, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if result.Redirect != nil {
		s.redirectHTTP(w, r, result.Redirect)
		return
	}

	mountData := map[string]any{
		"uri": uri,
	}
	if session != nil {
		mountData["session"] = session
	}

	tok, err := s.signer.Mint(mountData, token.Version)
	if err != nil {
		s.logger.Error("token mint failed", "uri", uri, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	title := s.pageTitle(result.Socket.Assigns)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = shellTemplate.Execute(w, shellData{
		Title:    title,
		Token:    tok,
		URI:      uri,
		Endpoint: LivePath,
		Assigns:  result.Socket.Assigns,
	})
	if err != nil {
		s.logger.Error("shell render failed", "uri", uri, "error", err)
	}
}

// redirectHTTP translates a mount-time navigation outcome into an HTTP
// redirect. Both redirect classes collapse to a plain 302 on the
// disconnected path; there is no live history to push onto yet.
func (s *Server) redirectHTTP(w http.ResponseWriter, r *http.Request, req *live.NavigationRequest) {
	http.Redirect(w, r, req.To, http.StatusFound)
}

// pageTitle pulls a "page_title" assign if the view set one.
func (s *Server) pageTitle(assigns map[string]any) string {
	if v, ok := assigns["page_title"]; ok {
		if title, ok := v.(string); ok && title != "" {
			return title
		}
	}
	return "vivid"
}
