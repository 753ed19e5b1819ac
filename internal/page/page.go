// Package page serves the HTML document the chart surface is mounted in.
package page

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
)

// Config describes the host page.
type Config struct {
	Title       string
	ContainerID string
	ChartLibURL string
	Background  string
}

var pageTmpl = template.Must(template.New("chart").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}}</title>
  <style>
    html, body { margin: 0; padding: 0; height: 100%; background: {{.Background}}; }
    #{{.ContainerID}} { position: relative; width: 100%; min-height: 200px; }
  </style>
  <script src="{{.ChartLibURL}}"></script>
</head>
<body>
  <div id="{{.ContainerID}}"></div>
</body>
</html>
`))

// Handler renders the page once and serves it for GET and HEAD.
func Handler(cfg Config) (http.Handler, error) {
	if cfg.Title == "" {
		cfg.Title = "perpchart"
	}
	if cfg.ContainerID == "" {
		cfg.ContainerID = "chart-host"
	}
	if cfg.Background == "" {
		cfg.Background = "#0b0e11"
	}
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, cfg); err != nil {
		return nil, err
	}
	body := buf.Bytes()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if r.Method == http.MethodHead {
			return
		}
		if _, err := w.Write(body); err != nil {
			slog.Debug("page response write failed", "error", err)
		}
	}), nil
}
