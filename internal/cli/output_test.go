package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wardsync/internal/config"
	"github.com/roach88/wardsync/internal/engine"
	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/replica"
	"github.com/roach88/wardsync/internal/store"
	"github.com/roach88/wardsync/internal/wal"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(resyncResult{Requeued: 3})
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   resyncResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Data.Requeued)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeRemote, "drain failed", nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E004", resp.Error.Code)
	assert.Equal(t, "drain failed", resp.Error.Message)
	assert.Nil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Success("deleted patients/p1"))
	assert.Equal(t, "deleted patients/p1\n", buf.String())
}

func TestOutputFormatter_TextRenderer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	entries := entryList{
		{ID: "m-1", Collection: "patients", EntityID: "p1", Operation: ir.OpUpdate, Status: ir.StatusPending},
		{ID: "m-2", Collection: "patients", EntityID: "p2", Operation: ir.OpDelete, Status: ir.StatusFailed,
			Terminal: true, RetryCount: 5, LastError: "validation: bad bed"},
	}
	require.NoError(t, formatter.Success(entries))

	out := buf.String()
	assert.Contains(t, out, "m-1  update patients/p1  pending")
	assert.Contains(t, out, "(terminal) retries=5  validation: bad bed")

	buf.Reset()
	require.NoError(t, formatter.Success(entryList(nil)))
	assert.Equal(t, "(none)\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("E001", "cleanup failed", map[string]string{"path": "ward.db"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "cleanup failed")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error("E001", "cleanup failed", map[string]string{"path": "ward.db"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Fail(ExitFailure, "restore failed", replica.ErrNotDeleted)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, replica.ErrNotDeleted)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalid, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "restore failed")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			errBuf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    buf,
				ErrWriter: errBuf,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("opening %s", "ward.db")

			assert.Empty(t, buf.String(), "diagnostics never go to the data writer")
			if tt.wantLog {
				assert.Contains(t, errBuf.String(), "opening ward.db")
			} else {
				assert.Empty(t, errBuf.String())
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"config", &config.LoadError{Message: "bad"}, ErrCodeConfig},
		{"not found", fmt.Errorf("get: %w", store.ErrNotFound), ErrCodeNotFound},
		{"transition", fmt.Errorf("resync: %w", wal.ErrInvalidTransition), ErrCodeTransition},
		{"exists", replica.ErrExists, ErrCodeInvalid},
		{"deleted", replica.ErrDeleted, ErrCodeInvalid},
		{"remote", remote.Transient(remote.CodeUnavailable, errors.New("down")), ErrCodeRemote},
		{"no remote", replica.ErrNoRemote, ErrCodeRemote},
		{"other", errors.New("boom"), ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flags")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitFailure, "x", nil))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestDrainResultText(t *testing.T) {
	buf := &bytes.Buffer{}
	drainResult{
		DrainResult: engine.DrainResult{Synced: 2, Retried: 1, Waiting: 1},
		Remaining:   1,
	}.RenderText(buf)
	assert.Equal(t, "synced 2, retried 1, failed 0, waiting 1, remaining 1\n", buf.String())
}
