package server

import (
	"context"
	"html/template"
	"mime"
	"net/http"
	"strconv"

	"github.com/campbel/fragment/internal/delivery"
)

var fallbackPage = template.Must(template.New("fallback").Parse(`<!DOCTYPE html>
<html>
<head><meta name="viewport" content="width=device-width, initial-scale=1"><title>{{.Name}}</title></head>
<body style="font-family: sans-serif; text-align: center">
<div style="margin-top: 15px; padding: 10px; background-color: #f0f0f0; border: 1px solid #ccc; border-radius: 8px">
<a href="{{.URL}}" target="_blank">Tap here to save your video.</a>
<p style="font-size: small; margin-top: 5px">Then, use the Share icon to 'Save Video' to your Camera Roll.</p>
</div>
</body>
</html>
`))

// responseTarget delivers into the HTTP response of one request.
type responseTarget struct {
	w     http.ResponseWriter
	blobs *BlobStore
}

func (t *responseTarget) Download(_ context.Context, f delivery.File) error {
	h := t.w.Header()
	h.Set("Content-Type", f.Type)
	h.Set("Content-Length", strconv.Itoa(len(f.Data)))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	t.w.WriteHeader(http.StatusOK)
	_, err := t.w.Write(f.Data)
	return err
}

func (t *responseTarget) Share(context.Context, delivery.File) error {
	return delivery.ErrShareUnavailable
}

func (t *responseTarget) Link(_ context.Context, f delivery.File) (string, func(), error) {
	id := t.blobs.Put(f)
	url := "/blob/" + id
	t.w.Header().Set("Content-Type", "text/html; charset=utf-8")
	t.w.WriteHeader(http.StatusOK)
	err := fallbackPage.Execute(t.w, struct{ Name, URL string }{f.Name, url})
	return url, func() { t.blobs.Delete(id) }, err
}
