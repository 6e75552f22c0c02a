package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/reqctx"
)

func TestCtxAttachesRequestFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	ctx := reqctx.With(context.Background(), &reqctx.Store{
		CorrelationID: "corr-1",
		TestID:        "run-9",
		UserID:        42,
	})

	logger := Ctx(ctx)
	logger.Info().Msg("task.created")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "corr-1", record["correlationId"])
	assert.Equal(t, "run-9", record["testId"])
	assert.Equal(t, float64(42), record["userId"])
	assert.Equal(t, "task.created", record["message"])
}

func TestCtxSkipsAbsentFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	ctx := reqctx.With(context.Background(), &reqctx.Store{CorrelationID: "corr-2"})

	logger := Ctx(ctx)
	logger.Info().Msg("http.request")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "corr-2", record["correlationId"])
	assert.NotContains(t, record, "testId")
	assert.NotContains(t, record, "userId")
}

func TestCtxOutsideRequest(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	logger := Ctx(context.Background())
	logger.Info().Msg("startup")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "correlationId")
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want interface{}
	}{
		{name: "password is redacted", key: "password", want: "[REDACTED]"},
		{name: "token is redacted", key: "apiToken", want: "[REDACTED]"},
		{name: "authorization is redacted", key: "Authorization", want: "[REDACTED]"},
		{name: "mixed case is redacted", key: "UserPassword", want: "[REDACTED]"},
		{name: "plain field passes through", key: "status", want: "done"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Redact(map[string]interface{}{tt.key: "done"})
			assert.Equal(t, tt.want, out[tt.key])
		})
	}
}
