package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(newTestRouter(t))
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func TestHTTPSessionCreateAndGetByID(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Mux(), http.MethodPost, "/rpc/session.create", CreateInput{
		Provider: testProviderID,
		Model:    testModelID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var created struct {
		Result struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	require.NotEmpty(t, created.Result.ID)

	w = doJSON(t, s.Mux(), http.MethodPost, "/rpc/session.getByID", map[string]string{"sessionID": created.Result.ID})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPSessionGetByIDNotFoundMapsTo404(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Mux(), http.MethodPost, "/rpc/session.getByID", map[string]string{"sessionID": "ses_missing"})
	require.Equal(t, http.StatusNotFound, w.Code)

	var env errorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestHTTPSessionGetByIDRequiresSessionID(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Mux(), http.MethodPost, "/rpc/session.getByID", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPSessionDeleteThenUpdateTitleFails(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Mux(), http.MethodPost, "/rpc/session.create", CreateInput{Provider: testProviderID, Model: testModelID})
	var created struct {
		Result struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))

	w = doJSON(t, s.Mux(), http.MethodPost, "/rpc/session.delete", map[string]string{"sessionID": created.Result.ID})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s.Mux(), http.MethodPost, "/rpc/session.updateTitle", map[string]string{
		"sessionID": created.Result.ID,
		"value":     "new title",
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTPConfigLoadAndUpdateRules(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s.Mux(), http.MethodPost, "/rpc/config.load", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s.Mux(), http.MethodPost, "/rpc/config.updateRules", UpdateRulesInput{EnabledRuleIDs: []string{"context-usage"}})
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Result struct {
			DefaultEnabledRuleIDs []string `json:"defaultEnabledRuleIds"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	require.Equal(t, []string{"context-usage"}, out.Result.DefaultEnabledRuleIDs)
}

func TestHTTPMessageSubscribeStreamsSSE(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	w := doJSON(t, s.Mux(), http.MethodPost, "/rpc/session.create", CreateInput{Provider: testProviderID, Model: testModelID})
	var created struct {
		Result struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/rpc/message.subscribe?sessionID=%s", srv.URL, created.Result.ID), nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	triggerReq, err := http.NewRequest(http.MethodPost, srv.URL+"/rpc/message.triggerStream", bytes.NewReader(mustJSON(t, map[string]any{
		"sessionID": created.Result.ID,
		"provider":  testProviderID,
		"model":     testModelID,
		"content": []map[string]any{{
			"type":    "text",
			"content": "hi",
			"status":  "completed",
		}},
	})))
	require.NoError(t, err)
	triggerReq.Header.Set("Content-Type", "application/json")
	triggerResp, err := http.DefaultClient.Do(triggerReq)
	require.NoError(t, err)
	triggerResp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	sawData := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			sawData = true
			break
		}
	}
	require.True(t, sawData, "expected at least one SSE data line from the triggered turn")
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
