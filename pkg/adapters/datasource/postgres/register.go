package postgres

import (
	"context"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Driver{
		Name:        "postgres",
		DisplayName: "PostgreSQL",
		Description: "SEC filing tables served from PostgreSQL 12+",
		Open:        open,
	})
}

func open(ctx context.Context, settings map[string]any) (datasource.Store, error) {
	cfg, err := FromMap(settings)
	if err != nil {
		return nil, err
	}
	return NewAdapter(ctx, cfg)
}
