package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/schema"
)

// AddCatalogOpts tunes catalog ingestion.
type AddCatalogOpts struct {
	// Overwrite replaces an existing CATALOG table instead of failing.
	Overwrite bool
	// IgnoreColumns are source columns dropped before the write.
	IgnoreColumns []string
}

// AddCatalog writes the source catalog as the store's CATALOG table. The
// schema's designated name column becomes CATALOG_OBJECT and serves as the
// primary key; every other column is carried as-is. A second call fails with
// ErrTableExists unless opts.Overwrite is set.
func (s *Store) AddCatalog(ctx context.Context, t *model.Table, sch *schema.Schema, opts AddCatalogOpts) error {
	if sch == nil || sch.Columns.Name == "" {
		return eris.Wrap(ErrMissingColumn, "store: add catalog requires a schema name column")
	}
	if !t.HasColumn(sch.Columns.Name) && !t.HasColumn(model.ColCatalogObject) {
		return eris.Wrapf(ErrMissingColumn, "store: add catalog: column %s", sch.Columns.Name)
	}

	log := zap.L().With(zap.String("component", "store.catalog"))

	exists, err := s.HasTable(ctx, CatalogTable)
	if err != nil {
		return err
	}
	if exists {
		if !opts.Overwrite {
			return eris.Wrap(ErrTableExists, "store: add catalog")
		}
		log.Warn("replacing existing catalog table")
		if err := s.DropTable(ctx, CatalogTable); err != nil {
			return err
		}
		if err := s.MetaRemove(ctx, ProcessCatalogIncluded, MetaAllTables); err != nil {
			return err
		}
	}

	staged := stageCatalog(t, sch.Columns.Name, opts.IgnoreColumns)
	if err := s.CreateTable(ctx, CatalogTable, staged, model.ColCatalogObject); err != nil {
		return err
	}
	if staged.Len() > 0 {
		if err := s.AppendRows(ctx, CatalogTable, staged); err != nil {
			return err
		}
	}

	if err := s.MetaAdd(ctx, ProcessCatalogIncluded, MetaAllTables); err != nil {
		return err
	}
	log.Info("catalog ingested",
		zap.Int("rows", staged.Len()),
		zap.String("name_column", sch.Columns.Name),
	)
	return nil
}

// stageCatalog renames the identifier column and drops ignored columns
// without mutating the caller's table.
func stageCatalog(t *model.Table, nameCol string, ignore []string) *model.Table {
	ignored := make(map[string]bool, len(ignore))
	for _, c := range ignore {
		ignored[c] = true
	}

	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if ignored[c] {
			continue
		}
		if c == nameCol {
			c = model.ColCatalogObject
		}
		cols = append(cols, c)
	}

	out := model.NewTable(cols...)
	for _, row := range t.Rows {
		staged := make(model.Row, len(cols))
		for _, c := range cols {
			if c == model.ColCatalogObject {
				if v, ok := row[model.ColCatalogObject]; ok {
					staged[c] = v
				} else {
					staged[c] = row[nameCol]
				}
				continue
			}
			staged[c] = row[c]
		}
		out.Append(staged)
	}
	return out
}
