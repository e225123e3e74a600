package archive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+DefaultAPIPrefix, 5*time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestClient_List(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/wabac/api/index", r.URL.Path)
		_, _ = w.Write([]byte(`{"colls":[
			{"id":"a","title":"Alpha","sourceUrl":"file://a.wacz","ctime":1650000000000,"size":1024},
			{"id":"b","filename":"b.warc","sourceUrl":"googledrive://xyz","size":"2048","onDemand":true}
		]}`))
	})

	colls, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, colls, 2)
	assert.Equal(t, "Alpha", colls[0].Title)
	assert.Equal(t, Bytes(1024), colls[0].Size)
	assert.Equal(t, int64(1650000000000), colls[0].Created().UnixMilli())
	assert.Equal(t, "b.warc", colls[1].DisplayTitle())
	assert.Equal(t, Bytes(2048), colls[1].Size)
	assert.Equal(t, "googledrive://xyz", colls[1].SourceURL)
	assert.True(t, colls[1].OnDemand)
}

func TestClient_Delete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/wabac/api/a", r.URL.Path)
		_, _ = w.Write([]byte(`{"colls":[{"id":"b","sourceUrl":"file://b"}]}`))
	})

	remaining, err := c.Delete(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "b", remaining[0].ID)
}

func TestClient_UpdateAuth(t *testing.T) {
	var got updateAuthRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/wabac/api/coll-1/updateAuth", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	err := c.UpdateAuth(context.Background(), "coll-1", map[string]string{"Authorization": "Bearer t"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Authorization": "Bearer t"}, got.Headers)
}

func TestClient_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})

	err := c.UpdateAuth(context.Background(), "coll-1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Status)
	assert.Equal(t, "updateAuth", se.Op)
	assert.Equal(t, "nope", se.Body)
}

func TestClient_BadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	_, err := c.List(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnexpectedStatus))
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("ftp://host/api", 0, nil)
	assert.Error(t, err)
	_, err = NewClient("://bad", 0, nil)
	assert.Error(t, err)
}
