package gateway

import (
	"fmt"
	"net/http"
)

const placeholderPage = `<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <meta http-equiv="refresh" content="%[1]d">
    <title>%[2]s</title>
  </head>
  <body>
    <h1>%[3]s</h1>
    <p>%[4]s</p>
    <script>
      setTimeout(function() { window.location.reload(); }, %[1]d000);
    </script>
  </body>
</html>
`

// Placeholder refresh intervals, in seconds.
const (
	startingRefresh    = 5
	unavailableRefresh = 10
)

func writePlaceholder(w http.ResponseWriter, refresh int, title, heading, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", fmt.Sprint(refresh))
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, placeholderPage, refresh, title, heading, body)
}

// writeStarting serves the page shown while the UI process is starting.
func writeStarting(w http.ResponseWriter) {
	writePlaceholder(w, startingRefresh,
		"Service Starting",
		"Service is Starting",
		"Please wait while the frontend service is loading...")
}

// writeUnavailable serves the page shown when the UI process cannot be reached.
func writeUnavailable(w http.ResponseWriter) {
	writePlaceholder(w, unavailableRefresh,
		"Frontend Unavailable",
		"Frontend Service Unavailable",
		"The frontend service is temporarily unavailable. Please try again in a moment.")
}
