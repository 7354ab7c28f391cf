package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTMLPostsMultipartForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "8.27", r.FormValue("paperWidth"))
		file, header, err := r.FormFile("files")
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, "index.html", header.Filename)
		body, _ := io.ReadAll(file)
		assert.Contains(t, string(body), "<h1>見積</h1>")
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	pdf, err := NewClient(srv.URL+"/", time.Second).RenderHTML(context.Background(), []byte("<h1>見積</h1>"))
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7", string(pdf))
}

func TestRenderHTMLReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chromium crashed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).RenderHTML(context.Background(), []byte("<p/>"))
	require.ErrorIs(t, err, ErrRender)
	require.Contains(t, err.Error(), "chromium crashed")
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	require.NoError(t, NewClient(srv.URL, time.Second).Ping(context.Background()))
}
