package progress

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// newFileServer serves "data" at /a.nc and 404 elsewhere.
func newFileServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/a.nc" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("data"))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}
