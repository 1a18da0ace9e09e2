package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const refHex = "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"

func TestParseContentRef(t *testing.T) {
	ref, err := ParseContentRef(refHex)
	require.NoError(t, err)
	assert.Equal(t, refHex, ref.String())
	assert.False(t, ref.IsZero())
}

func TestParseContentRefHexPrefix(t *testing.T) {
	plain, err := ParseContentRef(refHex)
	require.NoError(t, err)

	prefixed, err := ParseContentRef("0x" + refHex)
	require.NoError(t, err)
	assert.Equal(t, plain, prefixed)

	upper, err := ParseContentRef("0X" + refHex)
	require.NoError(t, err)
	assert.Equal(t, plain, upper)
}

func TestParseContentRefRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not hex", strings.Repeat("zz", 32)},
		{"too short", refHex[:62]},
		{"too long", refHex + "ff"},
		{"bare prefix", "0x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseContentRef(tc.input)
			assert.Error(t, err)
		})
	}
}

func TestContentRefJSONRoundTrip(t *testing.T) {
	ref, err := ParseContentRef(refHex)
	require.NoError(t, err)

	record := PatientRecord{
		Owner:         "patient-1",
		DataReference: ref,
		RecordType:    "clinical-summary",
		Version:       2,
		UpdatedAt:     time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC),
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)
	assert.Contains(t, string(data), refHex)

	var decoded PatientRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, record, decoded)
}

func TestExchangeErrorKinds(t *testing.T) {
	err := NewUnauthorizedError("patient-1", "caller is not permitted to read this record")

	assert.Equal(t, KindUnauthorized, KindOf(err))
	assert.True(t, IsKind(err, KindUnauthorized))
	assert.False(t, IsKind(err, KindNotFound))
	assert.Contains(t, err.Error(), "patient-1")

	wrapped := fmt.Errorf("handling request: %w", err)
	assert.Equal(t, KindUnauthorized, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, &ExchangeError{Kind: KindUnauthorized}))
}

func TestExchangeErrorForeign(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("disk full")))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestExchangeErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewInternalError("patient-1", "failed to load record", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestProposalStatusTerminal(t *testing.T) {
	assert.False(t, ProposalSubmitted.Terminal())
	assert.True(t, ProposalApproved.Terminal())
	assert.True(t, ProposalRejected.Terminal())
}
