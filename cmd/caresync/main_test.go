package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caresync/internal/model"
)

func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", dbPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnqueueAndSync(t *testing.T) {
	var received model.SyncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		results := make([]model.SyncOpResult, len(received.Ops))
		for i, op := range received.Ops {
			results[i] = model.SyncOpResult{OpID: op.OpID, Status: model.OpApplied}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(model.SyncResponse{OK: true, Results: results})
	}))
	defer srv.Close()
	t.Setenv("CARESYNC_SERVER_URL", srv.URL)

	db := filepath.Join(t.TempDir(), "offline.db")
	route := []string{"--service", "svc1", "--user", "u1", "--date", "2024-01-01"}

	_, err := run(t, db, append([]string{"draft", "save", "--data", `{"note":"draft"}`}, route...)...)
	require.NoError(t, err)

	out, err := run(t, db, append([]string{"draft", "show"}, route...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"note": "draft"`)

	out, err = run(t, db, append([]string{"enqueue", "--from-draft"}, route...)...)
	require.NoError(t, err)
	opID := strings.TrimSpace(out)
	assert.NotEmpty(t, opID)

	// Enqueueing consumed the draft.
	_, err = run(t, db, append([]string{"draft", "show"}, route...)...)
	assert.Error(t, err)

	out, err = run(t, db, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, `"synced": 1`)
	require.Len(t, received.Ops, 1)
	assert.Equal(t, opID, received.Ops[0].OpID)
	assert.JSONEq(t, `{"note":"draft"}`, string(received.Ops[0].Payload))

	out, err = run(t, db, "status")
	require.NoError(t, err)
	var status struct {
		LastSyncAt *string `json:"lastSyncAt"`
		Outbox     struct {
			Pending int `json:"pending"`
			Done    int `json:"done"`
		} `json:"outbox"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.NotNil(t, status.LastSyncAt)
	assert.Equal(t, 1, status.Outbox.Done)

	out, err = run(t, db, "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 1")
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "offline.db")

	_, err := run(t, db, "enqueue", "--service", "s", "--user", "u", "--date", "01/02/2024", "--data", `{}`)
	assert.Error(t, err)

	_, err = run(t, db, "enqueue", "--service", "s", "--user", "u", "--date", "2024-01-02", "--data", `{`)
	assert.Error(t, err)
}
