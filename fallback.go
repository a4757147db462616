package gooffline

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// offlineHTML is the navigation fallback. It must stand entirely on its
// own: no cached or network resource can be assumed reachable, so all
// styling and behavior are inlined.
const offlineHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;background:#f5f5f5;color:#333}
main{text-align:center;padding:2rem}
h1{font-size:1.5rem}
button{padding:.6rem 1.4rem;border:0;border-radius:4px;background:#2962ff;color:#fff;font-size:1rem;cursor:pointer}
</style>
</head>
<body>
<main>
<h1>You are offline</h1>
<p>This page is not available without a network connection.</p>
<button onclick="location.reload()">Retry</button>
</main>
</body>
</html>
`

type offlineBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// synthesizeOffline builds the substitute response served when both the
// network and the cache come up empty. Data requests get a structured JSON
// error so the application can tell "network unavailable" apart from "no
// data"; navigations get the self-contained offline page. Static assets
// never reach this point.
func synthesizeOffline(class Classification) *http.Response {
	var body []byte
	var contentType string

	switch class {
	case ClassNavigation:
		body = []byte(offlineHTML)
		contentType = "text/html; charset=utf-8"
	default:
		body, _ = json.Marshal(offlineBody{
			Error:   "offline",
			Message: "network unavailable and no cached copy exists",
		})
		contentType = "application/json"
	}

	h := http.Header{}
	h.Set(headerContentType, contentType)

	return &http.Response{
		Status:        "503 " + http.StatusText(http.StatusServiceUnavailable),
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
