package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthServer(t *testing.T, code int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAndEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		opts    checkOptions
		wantErr bool
	}{
		{
			name: "healthy with database",
			code: http.StatusOK,
			body: `{"status":"ok","services":{"database":{"status":"ok"},"watcher":{"running":true,"processed":3}}}`,
		},
		{
			name: "database disabled is fine by default",
			code: http.StatusOK,
			body: `{"status":"ok","services":{"database":{"status":"disabled"},"watcher":{"running":false}}}`,
		},
		{
			name:    "database required",
			code:    http.StatusOK,
			body:    `{"status":"ok","services":{"database":{"status":"disabled"},"watcher":{"running":true}}}`,
			opts:    checkOptions{requireDB: true},
			wantErr: true,
		},
		{
			name:    "watcher required",
			code:    http.StatusOK,
			body:    `{"status":"ok","services":{"database":{"status":"ok"},"watcher":{"running":false}}}`,
			opts:    checkOptions{requireWatcher: true},
			wantErr: true,
		},
		{
			name:    "unavailable",
			code:    http.StatusServiceUnavailable,
			body:    `{"status":"error","services":{"database":{"status":"error","error":"refused"}}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			code:    http.StatusOK,
			body:    `ok`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := healthServer(t, tt.code, tt.body)
			health, err := fetch(srv.Client(), srv.URL)
			if err == nil {
				err = evaluate(health, tt.opts)
			}
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
