// Package vector holds the types shared by every vector index backend and the
// Weaviate schema bootstrap.
package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Location is where a chunk was cut from.
type Location struct {
	Page   int `json:"page"`
	Offset int `json:"offset"`
	Index  int `json:"index"`
}

type Chunk struct {
	Content      string   `json:"content"`
	TenantID     string   `json:"tenant_id"`
	DocumentName string   `json:"document_name"`
	JobID        string   `json:"job_id"`
	Location     Location `json:"location"`
}

// Record is a chunk with its embedding, ready to upsert.
type Record struct {
	ID     string
	Chunk  Chunk
	Vector []float32
}

type Hit struct {
	Chunk Chunk
	// Score is a similarity where higher is closer.
	Score float32
}

// Index is a nearest-neighbour store partitioned by tenant. A query never
// sees records written to another partition.
type Index interface {
	Upsert(ctx context.Context, partition string, records []Record) error
	Query(ctx context.Context, partition string, vector []float32, k int) ([]Hit, error)
}

// RecordID derives a stable id from the job and chunk position, so a
// redelivered job overwrites its own vectors instead of adding new ones.
func RecordID(c Chunk) string {
	name := fmt.Sprintf("%s/%s/%d", c.TenantID, c.JobID, c.Location.Index)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// PartitionName maps an opaque tenant id to a backend-safe name. Distinct ids
// get distinct names, and the result only uses [a-f0-9], so it is valid as a
// Weaviate tenant and as part of a Qdrant collection name.
func PartitionName(partition string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("tenant/"+partition))
	return strings.ReplaceAll(id.String(), "-", "")
}

func NewRecord(c Chunk, vec []float32) Record {
	return Record{ID: RecordID(c), Chunk: c, Vector: vec}
}
