package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/airlift/buildforge/pkg/jobstore"
	"github.com/airlift/buildforge/pkg/orchestrator"
	"github.com/airlift/buildforge/pkg/provider"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"job not found", jobstore.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"wrapped not found", fmt.Errorf("get job: %w", jobstore.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"invalid request", fmt.Errorf("%w: app_name is required", orchestrator.ErrInvalidRequest), http.StatusBadRequest, CodeInvalidRequest},
		{"already terminal", orchestrator.ErrAlreadyTerminal, http.StatusConflict, CodeConflict},
		{"upstream repo not found", &provider.Error{Op: "list branches", Err: provider.ErrNotFound}, http.StatusNotFound, CodeNotFound},
		{"bad credentials", &provider.Error{Op: "get user", Err: provider.ErrInvalidCredentials}, http.StatusBadGateway, CodeUpstreamError},
		{"rate limited", &provider.Error{Op: "fork repo", Err: provider.ErrRateLimited}, http.StatusBadGateway, CodeUpstreamError},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}
