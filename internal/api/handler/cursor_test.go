package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	cursor := &domain.JobCursor{
		CreatedAt: time.Date(2026, 10, 15, 9, 30, 0, 123456789, time.UTC),
		JobID:     "6f1c2b8e-2c1a-4a5e-9a0b-7e3d5c1f0a42",
	}

	decoded, err := DecodeJobCursor(EncodeJobCursor(cursor))
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.JobID, decoded.JobID)
}

func TestDecodeJobCursor(t *testing.T) {
	encode := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name    string
		input   string
		wantNil bool
		wantErr bool
	}{
		{name: "empty means first page", input: "", wantNil: true},
		{name: "not base64", input: "***", wantErr: true},
		{name: "missing separator", input: encode("12345"), wantErr: true},
		{name: "missing job id", input: encode("12345|"), wantErr: true},
		{name: "bad timestamp", input: encode("yesterday|abc"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cursor, err := DecodeJobCursor(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, cursor)
			}
		})
	}
}
