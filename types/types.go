package types

import (
	"time"

	"github.com/google/uuid"
)

type URLStatus string

const (
	StatusPending   URLStatus = "PENDING"
	StatusFetching  URLStatus = "FETCHING"
	StatusChunking  URLStatus = "CHUNKING"
	StatusEmbedding URLStatus = "EMBEDDING"
	StatusCompleted URLStatus = "COMPLETED"
	StatusFailed    URLStatus = "FAILED"
)

// Enqueueable reports whether a submission of a URL in this status
// should put a new ingestion job on the queue.
func (s URLStatus) Enqueueable() bool {
	return s == StatusPending || s == StatusFailed
}

func (s URLStatus) Valid() bool {
	switch s {
	case StatusPending, StatusFetching, StatusChunking, StatusEmbedding, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type URL struct {
	ID        uuid.UUID
	URL       string
	Status    URLStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Content struct {
	ID        uuid.UUID
	URLID     uuid.UUID
	Text      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Chunk struct {
	ID         uuid.UUID
	URLID      uuid.UUID
	ContentID  uuid.NullUUID
	Text       string
	IsEmbedded bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Embedding struct {
	ID        uuid.UUID
	ChunkID   uuid.UUID
	Vector    []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChunkRetrieval is a single nearest-neighbour hit. Distance is the
// cosine distance between the query vector and the chunk embedding.
type ChunkRetrieval struct {
	Chunk    Chunk
	URL      string
	Distance float64
}

// IngestionMessage is the queue payload for one ingestion job.
type IngestionMessage struct {
	URLID       uuid.UUID `json:"url_id"`
	URL         string    `json:"url"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func NewIngestionMessage(u URL) IngestionMessage {
	return IngestionMessage{
		URLID:       u.ID,
		URL:         u.URL,
		SubmittedAt: time.Now().UTC(),
	}
}
