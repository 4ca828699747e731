package sqlite

import (
	"context"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Driver{
		Name:        "sqlite",
		DisplayName: "SQLite",
		Description: "SEC filing tables exported to a local SQLite file",
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
