package rest

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"
)

type statusView struct {
	Fingerprint string  `json:"fingerprint"`
	Name        string  `json:"name,omitempty"`
	State       string  `json:"state"`
	Progress    float64 `json:"progress"`
	Message     string  `json:"message"`
	RetryAfter  int     `json:"retry_after"`
}

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="{{.RetryAfter}}">
<title>{{if .Name}}{{.Name}}{{else}}{{.Fingerprint}}{{end}} - {{.State}}</title>
</head>
<body>
<h1>{{if .Name}}{{.Name}}{{else}}{{.Fingerprint}}{{end}}</h1>
<p>{{.Message}}</p>
{{if gt .Progress 0.0}}<progress max="100" value="{{printf "%.1f" .Progress}}"></progress> {{printf "%.1f" .Progress}}%{{end}}
</body>
</html>
`))

// writeStatusPage answers 200 with an HTML page that refreshes itself, or
// JSON when the client asks for it.
func writeStatusPage(w http.ResponseWriter, r *http.Request, view statusView) {
	view.RetryAfter = retryAfterSeconds
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, view)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	_ = statusTemplate.Execute(w, view)
}
