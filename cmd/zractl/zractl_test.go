package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siphomateke/zra-helper-sub001/internal/config"
	"github.com/siphomateke/zra-helper-sub001/internal/service/auth"
	"github.com/siphomateke/zra-helper-sub001/internal/task"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow/receipts"
)

const testSecret = "test-secret-that-is-at-least-32-chars-long"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedDownloader fails each receipt a set number of times before
// succeeding.
type scriptedDownloader struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func newScriptedDownloader(failures map[string]int) *scriptedDownloader {
	return &scriptedDownloader{failures: failures, calls: make(map[string]int)}
}

func (d *scriptedDownloader) DownloadReceipt(_ context.Context, receiptID, dir string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[receiptID]++
	if d.calls[receiptID] <= d.failures[receiptID] {
		return "", errors.New("portal unavailable")
	}
	return filepath.Join(dir, receiptID+".pdf"), nil
}

type receiptsReport struct {
	Status     workflow.Status `json:"status"`
	Output     receipts.Output `json:"output"`
	RetryInput *receipts.Input `json:"retry_input"`
}

func runReceipts(t *testing.T, downloader receipts.Downloader, ids []string, retries int) (receiptsReport, error) {
	t.Helper()
	tree := task.NewTree(nil, nil, discardLogger())
	r := workflow.NewRunner[receipts.Input, receipts.Output](receipts.New(downloader, "out"), tree, discardLogger())

	var out bytes.Buffer
	err := runWithRetries[receipts.Input, receipts.Output](context.Background(), r, receipts.Input{ReceiptIDs: ids}, retries, &out, discardLogger())

	var rep receiptsReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep), out.String())
	return rep, err
}

func TestRunWithRetriesRecoversFailedWork(t *testing.T) {
	downloader := newScriptedDownloader(map[string]int{"2": 1})

	rep, err := runReceipts(t, downloader, []string{"1", "2", "3"}, 2)
	require.NoError(t, err)

	assert.Equal(t, workflow.StateSucceeded, rep.Status.State)
	assert.Equal(t, 2, rep.Status.Attempts)
	assert.False(t, rep.Status.CanRetry)
	assert.Nil(t, rep.RetryInput)
	assert.Len(t, rep.Output.Files, 3)

	// Only the failed receipt is downloaded again.
	assert.Equal(t, map[string]int{"1": 1, "2": 2, "3": 1}, downloader.calls)
}

func TestRunWithRetriesStopsAtLimit(t *testing.T) {
	downloader := newScriptedDownloader(map[string]int{"2": 10})

	rep, err := runReceipts(t, downloader, []string{"1", "2"}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(workflow.StatePartiallyFailed))

	assert.Equal(t, workflow.StatePartiallyFailed, rep.Status.State)
	assert.Equal(t, 2, rep.Status.Attempts)
	assert.True(t, rep.Status.CanRetry)
	require.NotNil(t, rep.RetryInput)
	assert.Equal(t, []string{"2"}, rep.RetryInput.ReceiptIDs)
	assert.Equal(t, map[string]string{"1": filepath.Join("out", "1.pdf")}, rep.Output.Files)
}

func TestRunWithRetriesWithoutRetries(t *testing.T) {
	downloader := newScriptedDownloader(map[string]int{"1": 1})

	rep, err := runReceipts(t, downloader, []string{"1"}, 0)
	require.Error(t, err)
	assert.Equal(t, 1, rep.Status.Attempts)
	assert.Equal(t, 1, downloader.calls["1"])
}

func setTestEnv(t *testing.T, portalURL string) {
	t.Helper()
	t.Setenv("ZRA_AUTH_JWT_SECRET", testSecret)
	t.Setenv("ZRA_PORTAL_BASE_URL", portalURL)
	t.Setenv("ZRA_DOWNLOADS_DIR", t.TempDir())
	t.Setenv("ZRA_SERVER_LOG_LEVEL", "error")
	t.Setenv("ZRA_QUEUES_DOWNLOADS_MIN_DELAY", "0s")
}

func executeCommand(args ...string) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd(io.Discard, io.Discard)
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"liabilities", "receipts", "token"})
}

func TestTokenCommand(t *testing.T) {
	setTestEnv(t, "https://portal.example.com")

	stdout, _, err := executeCommand("token", "--subject", "ci")
	require.NoError(t, err)

	jwtService, err := auth.NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetimeMinutes: 60})
	require.NoError(t, err)
	claims, err := jwtService.ValidateToken(context.Background(), strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
}

func TestLiabilitiesInput(t *testing.T) {
	tests := []struct {
		name    string
		opts    liabilitiesOptions
		want    []string
		wantErr bool
	}{
		{
			name: "normalises tax type codes",
			opts: liabilitiesOptions{taxTypes: []string{" itx", "Vat", ""}, from: "01/2023", to: "12/2023"},
			want: []string{"ITX", "VAT"},
		},
		{
			name:    "no tax types",
			opts:    liabilitiesOptions{taxTypes: []string{" "}, from: "01/2023", to: "12/2023"},
			wantErr: true,
		},
		{
			name:    "negative retries",
			opts:    liabilitiesOptions{taxTypes: []string{"ITX"}, from: "01/2023", to: "12/2023", retries: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := tt.opts.input()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			var got []string
			for _, code := range input.TaxTypeIDs {
				got = append(got, string(code))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLiabilitiesRequiresFlags(t *testing.T) {
	setTestEnv(t, "https://portal.example.com")

	_, _, err := executeCommand("liabilities", "--tax-types", "ITX")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReceiptsCommandAgainstPortal(t *testing.T) {
	var mu sync.Mutex
	hits := make(map[string]int)
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		n := hits[r.URL.Path]
		mu.Unlock()

		if r.URL.Path == "/api/taxpayer/receipts/B/pdf" && n == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("%PDF receipt"))
	}))
	defer portal.Close()

	setTestEnv(t, portal.URL)
	dir := t.TempDir()

	stdout, _, err := executeCommand("receipts", "A", "B", "--dir", dir, "--retries", "1")
	require.NoError(t, err)

	var rep receiptsReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, workflow.StateSucceeded, rep.Status.State)
	assert.Equal(t, 2, rep.Status.Attempts)
	require.Len(t, rep.Output.Files, 2)

	for _, id := range []string{"A", "B"} {
		data, err := os.ReadFile(rep.Output.Files[id])
		require.NoError(t, err)
		assert.Equal(t, "%PDF receipt", string(data))
	}
	assert.Equal(t, 2, hits["/api/taxpayer/receipts/B/pdf"])
}
