package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"go.mongodb.org/mongo-driver/mongo"

	"ytindexer/internal/deadletter"
	"ytindexer/pkg/migrations"
)

// Migrate prepares every store that is not nil: Mongo indexes, the search index
// mapping and the dead-letter archive schema.
func (dc *DatabaseConnector) Migrate(ctx context.Context, db *mongo.Database, es *elasticsearch.Client, pg *sql.DB) error {
	if db != nil {
		if err := migrations.EnsureMongoIndexes(ctx, db); err != nil {
			return err
		}
		dc.Logger.Infow("MongoDB indexes ensured", "database", db.Name())
	}

	if es != nil {
		if err := migrations.EnsureSearchIndex(ctx, es, dc.Config.Search.Index); err != nil {
			return err
		}
		dc.Logger.Infow("Search index ensured", "index", dc.Config.Search.Index)
	}

	if pg != nil {
		if err := deadletter.Migrate(pg); err != nil {
			return fmt.Errorf("dead-letter archive: %w", err)
		}
		dc.Logger.Info("Dead-letter archive migrated")
	}
	return nil
}
