package types

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLStatus_Enqueueable(t *testing.T) {
	tests := []struct {
		status URLStatus
		want   bool
	}{
		{StatusPending, true},
		{StatusFailed, true},
		{StatusFetching, false},
		{StatusChunking, false},
		{StatusEmbedding, false},
		{StatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Enqueueable())
			assert.True(t, tt.status.Valid())
		})
	}
	assert.False(t, URLStatus("DONE").Valid())
}

func TestIngestionMessage_WireFormat(t *testing.T) {
	id := uuid.New()
	msg := NewIngestionMessage(URL{ID: id, URL: "https://example.com/a"})

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, id.String(), raw["url_id"])
	assert.Equal(t, "https://example.com/a", raw["url"])
	assert.Contains(t, raw, "submitted_at")
}

func TestIngestRequest_Validate(t *testing.T) {
	ok := &IngestRequest{URLs: []string{"https://example.com", "http://foo.org/page?x=1"}}
	assert.Empty(t, Validate(ok))

	bad := &IngestRequest{URLs: []string{"https://example.com", "not a url"}}
	errs := Validate(bad)
	require.NotEmpty(t, errs)
}

func TestQueryRequest_Validate(t *testing.T) {
	assert.Empty(t, Validate(&QueryRequest{Query: "what is pgvector?"}))
	assert.NotEmpty(t, Validate(&QueryRequest{Query: "   "}))
}
