package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"pdfchat/internal/apperr"
	"pdfchat/internal/vector"
)

// Store keeps chunks in a multi-tenant class. The Weaviate tenant on every
// write and read is vector.PartitionName of the partition, since tenant ids
// are opaque and Weaviate only accepts [A-Za-z0-9_-]{1,64}.
type Store struct {
	client *weaviate.Client
	class  string
}

func NewStore(client *weaviate.Client, class string) *Store {
	return &Store{client: client, class: class}
}

// EnsureSchema creates the chunk class if it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, s, s.class)
}

func (s *Store) Upsert(ctx context.Context, partition string, records []vector.Record) error {
	if partition == "" {
		return apperr.ErrMissingTenant
	}
	if len(records) == 0 {
		return nil
	}

	tenant := vector.PartitionName(partition)
	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		objects = append(objects, &models.Object{
			Class:  s.class,
			ID:     strfmt.UUID(r.ID),
			Tenant: tenant,
			Vector: models.C11yVector(r.Vector),
			Properties: map[string]interface{}{
				"content":      r.Chunk.Content,
				"tenantId":     r.Chunk.TenantID,
				"documentName": r.Chunk.DocumentName,
				"jobId":        r.Chunk.JobID,
				"page":         r.Chunk.Location.Page,
				"offset":       r.Chunk.Location.Offset,
				"chunkIndex":   r.Chunk.Location.Index,
			},
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate batch: %w", err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("weaviate batch object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, partition string, vec []float32, k int) ([]vector.Hit, error) {
	if partition == "" {
		return nil, apperr.ErrMissingTenant
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "tenantId"},
		{Name: "documentName"},
		{Name: "jobId"},
		{Name: "page"},
		{Name: "offset"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithTenant(vector.PartitionName(partition)).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	if len(res.Errors) > 0 {
		// a tenant that never uploaded anything does not exist yet
		if tenantMissing(res.Errors) {
			return nil, nil
		}
		return nil, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	var hits []vector.Hit
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	rows, ok := data[s.class].([]interface{})
	if !ok {
		return nil, nil
	}
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		hit := vector.Hit{Chunk: chunkFromProps(props)}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				hit.Score = float32(1 - d)
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func chunkFromProps(props map[string]interface{}) vector.Chunk {
	var c vector.Chunk
	c.Content, _ = props["content"].(string)
	c.TenantID, _ = props["tenantId"].(string)
	c.DocumentName, _ = props["documentName"].(string)
	c.JobID, _ = props["jobId"].(string)
	if v, ok := props["page"].(float64); ok {
		c.Location.Page = int(v)
	}
	if v, ok := props["offset"].(float64); ok {
		c.Location.Offset = int(v)
	}
	if v, ok := props["chunkIndex"].(float64); ok {
		c.Location.Index = int(v)
	}
	return c
}

func tenantMissing(errs []*models.GraphQLError) bool {
	for _, e := range errs {
		msg := strings.ToLower(e.Message)
		if strings.Contains(msg, "tenant") && strings.Contains(msg, "not found") {
			return true
		}
	}
	return false
}
