package vector

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"

	"pdfchat/internal/apperr"
)

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// Properties of the chunk class. Tenancy is native, so none of them is used
// for isolation.
var chunkProperties = []*models.Property{
	{Name: "content", DataType: []string{"text"}},
	{Name: "tenantId", DataType: []string{"string"}},
	{Name: "documentName", DataType: []string{"text"}},
	{Name: "jobId", DataType: []string{"string"}},
	{Name: "page", DataType: []string{"int"}},
	{Name: "offset", DataType: []string{"int"}},
	{Name: "chunkIndex", DataType: []string{"int"}},
}

// EnsureSchema creates the multi-tenant chunk class, or adds missing
// properties to an existing one.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "A chunk of an uploaded PDF",
			Vectorizer:  "none",
			Properties:  chunkProperties,
			MultiTenancyConfig: &models.MultiTenancyConfig{
				Enabled:            true,
				AutoTenantCreation: true,
			},
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}
	// tenancy cannot be switched on for an existing class
	if class.MultiTenancyConfig == nil || !class.MultiTenancyConfig.Enabled {
		return fmt.Errorf("%w: class %s exists without multi-tenancy", apperr.ErrConfiguration, className)
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range chunkProperties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}
