package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlift/buildforge/pkg/provider"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		Token:             "test-token",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000, // keep tests fast
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestAuthenticatedUser(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user", r.URL.Path)
		assert.Equal(t, "token test-token", r.Header.Get("Authorization"))
		w.Header().Set("X-OAuth-Scopes", "repo, workflow")
		_ = json.NewEncoder(w).Encode(map[string]string{"login": "build-bot"})
	}))

	id, err := c.AuthenticatedUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "build-bot", id.Login)
	assert.True(t, id.HasScope("repo"))
	assert.True(t, id.HasScope("workflow"))
	assert.False(t, id.HasScope("admin:org"))
}

func TestAuthenticatedUser_BadToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Bad credentials"})
	}))

	_, err := c.AuthenticatedUser(context.Background())
	require.Error(t, err)
	assert.True(t, provider.IsInvalidCredentials(err))
}

func TestForkRepo_AcceptedOnly(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/repos/acme/widget/forks", r.URL.Path)

			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "widget-abc12345", req["name"])

			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"name":           "widget-abc12345",
				"owner":          map[string]string{"login": "build-bot"},
				"default_branch": "main",
				"html_url":       "https://github.com/build-bot/widget-abc12345",
				"private":        true,
			})
		}))

		repo, err := c.ForkRepo(context.Background(), "acme", "widget", "widget-abc12345")
		require.NoError(t, err)
		assert.Equal(t, "build-bot", repo.Owner)
		assert.Equal(t, "widget-abc12345", repo.Name)
		assert.Equal(t, "main", repo.DefaultBranch)
	})

	t.Run("200 is not accepted", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"name": "widget"})
		}))

		_, err := c.ForkRepo(context.Background(), "acme", "widget", "widget")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "202")
	})
}

func TestGetBranch_NotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Branch not found"})
	}))

	_, err := c.GetBranch(context.Background(), "build-bot", "widget", "feature/x")
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err))
}

func TestListBranches(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget/branches", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"name":"main","commit":{"sha":"abc123"}},
			{"name":"develop","commit":{"sha":"def456"}}
		]`))
	}))

	branches, err := c.ListBranches(context.Background(), "acme", "widget")
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, provider.Branch{Name: "main", SHA: "abc123"}, branches[0])
	assert.Equal(t, provider.Branch{Name: "develop", SHA: "def456"}, branches[1])
}

func TestClassifyStatus_RateLimit(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		body   string
		check  func(error) bool
	}{
		{"403 with exhausted budget", http.StatusForbidden,
			map[string]string{"X-RateLimit-Remaining": "0"},
			`{"message":"API rate limit exceeded"}`, provider.IsRateLimited},
		{"403 rate limit message", http.StatusForbidden, nil,
			`{"message":"You have exceeded a secondary rate limit"}`, provider.IsRateLimited},
		{"429", http.StatusTooManyRequests, nil, `{}`, provider.IsRateLimited},
		{"plain 403", http.StatusForbidden, nil,
			`{"message":"Must have admin rights"}`, provider.IsAccessDenied},
		{"500", http.StatusInternalServerError, nil, `{}`, provider.IsUnavailable},
		{"502", http.StatusBadGateway, nil, `{}`, provider.IsUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			err := c.DeleteRepo(context.Background(), "build-bot", "widget")
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected classification: %v", err)
		})
	}
}

func TestDeleteRepo(t *testing.T) {
	var method, path string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.DeleteRepo(context.Background(), "build-bot", "widget-abc12345"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/repos/build-bot/widget-abc12345", path)
}

func TestWriteFile_EncodesContent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/repos/build-bot/widget/contents/.github/workflows/build.yml", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "aGVsbG8=", req["content"]) // base64("hello")
		assert.Equal(t, "main", req["branch"])
		assert.Equal(t, "abc123", req["sha"])

		w.WriteHeader(http.StatusCreated)
	}))

	err := c.WriteFile(context.Background(), "build-bot", "widget", provider.WriteFileOptions{
		Path:    ".github/workflows/build.yml",
		Branch:  "main",
		SHA:     "abc123",
		Message: "Add build workflow",
		Content: []byte("hello"),
	})
	require.NoError(t, err)
}

func TestListRuns(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/build-bot/widget/actions/runs", r.URL.Path)
		_, _ = w.Write([]byte(`{"workflow_runs":[
			{"id":2,"status":"in_progress","conclusion":""},
			{"id":1,"status":"completed","conclusion":"success"}
		]}`))
	}))

	runs, err := c.ListRuns(context.Background(), "build-bot", "widget")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, int64(2), runs[0].ID)
	assert.False(t, runs[0].Completed())
	assert.True(t, runs[1].Completed())
	assert.False(t, runs[1].Failed())
}

func TestDispatchWorkflow(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/build-bot/widget/actions/workflows/build.yml/dispatches", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "main", req["ref"])

		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.DispatchWorkflow(context.Background(), "build-bot", "widget", "build.yml", "main"))
}
