package helpers

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSendsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "tr-TR,tr;q=0.9", r.Header.Get("Accept-Language"))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><body>Merhaba dünya</body></html>"))
	}))
	defer server.Close()

	client, err := NewClient("", nil, 5*time.Second)
	require.NoError(t, err)

	resp, err := Fetch(context.Background(), client, server.URL, map[string]string{
		"User-Agent":      "test-agent",
		"Accept-Language": "tr-TR,tr;q=0.9",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Body, "Merhaba dünya")
}

func TestFetchNonUTF8(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-9")
		w.WriteHeader(http.StatusOK)
		// "Güzel" in ISO-8859-9 (Turkish)
		w.Write([]byte("<html><body>G\xfczel</body></html>"))
	}))
	defer server.Close()

	client, err := NewClient("", nil, 5*time.Second)
	require.NoError(t, err)

	resp, err := Fetch(context.Background(), client, server.URL, nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Body, "Güzel")
}

func TestFetchReturnsBlockedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer server.Close()

	client, err := NewClient("", nil, 5*time.Second)
	require.NoError(t, err)

	resp, err := Fetch(context.Background(), client, server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestFetchKeepsCookiesAndFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "cf_clearance", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/listing", http.StatusFound)
	})
	mux.HandleFunc("/listing", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("cf_clearance")
		if err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("cookie=" + c.Value))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client, err := NewClient("", jar, 5*time.Second)
	require.NoError(t, err)

	resp, err := Fetch(context.Background(), client, server.URL+"/start", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, server.URL+"/listing", resp.FinalURL)
	assert.Equal(t, "cookie=ok", resp.Body)
}

func TestNewClientInvalidProxy(t *testing.T) {
	_, err := NewClient("://bad", nil, time.Second)
	assert.Error(t, err)
}

func TestFetchInvalidURL(t *testing.T) {
	client, err := NewClient("", nil, time.Second)
	require.NoError(t, err)

	_, err = Fetch(context.Background(), client, "http://invalid.url.that.does.not.exist.invalid", nil)
	assert.Error(t, err)
}
