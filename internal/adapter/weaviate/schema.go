package weaviate

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// Schema operations used by vector.EnsureSchema.

func (s *Store) ClassExists(ctx context.Context, className string) (bool, error) {
	return s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (s *Store) CreateClass(ctx context.Context, class *models.Class) error {
	return s.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (s *Store) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return s.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (s *Store) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return s.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}
