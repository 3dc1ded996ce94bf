package httppool

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAddsContextIDAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Client-Context-ID"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "keep-alive", r.Header.Get("Connection"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	pool := New(Config{Username: "alice", Password: "secret"})
	defer pool.Close()

	resp, err := pool.Send(context.Background(), "query", "node1", srv.URL, Request{Method: http.MethodGet, Path: "/query/service"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestSendReusesClientPerServiceNode(t *testing.T) {
	pool := New(Config{})
	defer pool.Close()

	e1 := pool.entryFor("query|node1")
	e2 := pool.entryFor("query|node1")
	e3 := pool.entryFor("search|node1")

	assert.Same(t, e1, e2)
	assert.NotSame(t, e1, e3)
}

func TestStreamYieldsRowsThenMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"requestID":"abc","results":[{"a":1},{"a":2},{"a":3}],"status":"success"}`)
	}))
	defer srv.Close()

	pool := New(Config{})
	defer pool.Close()

	rs, err := pool.Stream(context.Background(), "query", "node1", srv.URL, "results", Request{Method: http.MethodPost, Path: "/query/service"})
	require.NoError(t, err)
	defer rs.Close()

	var rows []string
	for {
		row, err := rs.NextRow()
		if err == ErrStreamEnd {
			break
		}
		require.NoError(t, err)
		rows = append(rows, string(row))
	}
	require.Len(t, rows, 3)
	assert.JSONEq(t, `{"a":1}`, rows[0])
	assert.JSONEq(t, `{"a":3}`, rows[2])

	assert.JSONEq(t, `{"requestID":"abc","status":"success"}`, string(rs.MetaData()))
}

func TestStreamErrorsOnMissingArrayField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"success"}`)
	}))
	defer srv.Close()

	pool := New(Config{})
	defer pool.Close()

	_, err := pool.Stream(context.Background(), "query", "node1", srv.URL, "results", Request{Method: http.MethodPost, Path: "/query/service"})
	assert.Error(t, err)
}
