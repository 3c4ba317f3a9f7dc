package library

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/meilisearch/meilisearch-go"

	"eventflux/pkg/event"
	"eventflux/pkg/projection"
)

// catalogRow is the sqlx struct-scan target for the items table,
// replacing internal/catalog/implementation.go's manual column-by-column
// rows.Scan.
type catalogRow struct {
	ID          uuid.UUID `db:"id"`
	ISBN        string    `db:"isbn"`
	Title       string    `db:"title"`
	Author      string    `db:"author"`
	TotalCopies int       `db:"total_copies"`
	Available   int       `db:"available"`
	Status      string    `db:"status"`
}

// CatalogProjection maintains the Postgres items read model via sqlx and,
// when a search client is configured, mirrors it into a Meilisearch
// index. search may be nil: Search falls back to the Postgres
// table, the same "must not require a live search cluster" spirit as the
// teacher's setupTestDB skip pattern.
type CatalogProjection struct {
	db     *sqlx.DB
	search meilisearch.ServiceManager
	index  string
}

// NewCatalogProjection constructs a CatalogProjection. search may be nil.
func NewCatalogProjection(db *sqlx.DB, search meilisearch.ServiceManager, index string) *CatalogProjection {
	if index == "" {
		index = "items"
	}
	return &CatalogProjection{db: db, search: search, index: index}
}

func (p *CatalogProjection) Name() string { return "catalog" }

func (p *CatalogProjection) ApplyEvent(ctx context.Context, d projection.Delivery) error {
	switch d.Event.Name() {
	case EventItemAdded:
		var ev ItemAddedEvent
		if err := event.Decode(event.JSONCodec{}, d.Event, &ev); err != nil {
			return err
		}
		return p.upsertAdded(ctx, ev)
	case EventItemCopiesUpdated:
		var ev ItemCopiesUpdatedEvent
		if err := event.Decode(event.JSONCodec{}, d.Event, &ev); err != nil {
			return err
		}
		return p.updateCopies(ctx, ev)
	case EventItemRemoved:
		var ev ItemRemovedEvent
		if err := event.Decode(event.JSONCodec{}, d.Event, &ev); err != nil {
			return err
		}
		return p.markRemoved(ctx, ev)
	default:
		return nil
	}
}

func (p *CatalogProjection) upsertAdded(ctx context.Context, ev ItemAddedEvent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO items (id, isbn, title, author, total_copies, available, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', 1)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.ISBN, ev.Title, ev.Author, ev.TotalCopies, ev.TotalCopies)
	if err != nil {
		return fmt.Errorf("catalog projection: insert item: %w", err)
	}
	return p.indexSearch(ctx, ev.ID, ev.ISBN, ev.Title, ev.Author)
}

func (p *CatalogProjection) updateCopies(ctx context.Context, ev ItemCopiesUpdatedEvent) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE items SET total_copies = $1, available = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3
	`, ev.NewTotal, ev.NewAvailable, ev.ID)
	return err
}

func (p *CatalogProjection) markRemoved(ctx context.Context, ev ItemRemovedEvent) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE items SET status = $1, version = version + 1, updated_at = NOW() WHERE id = $2
	`, ev.Status, ev.ID)
	if err != nil {
		return err
	}
	if p.search == nil {
		return nil
	}
	_, err = p.search.Index(p.index).DeleteDocument(ev.ID.String())
	return err
}

func (p *CatalogProjection) indexSearch(ctx context.Context, id uuid.UUID, isbn, title, author string) error {
	if p.search == nil {
		return nil
	}
	doc := map[string]any{"id": id.String(), "isbn": isbn, "title": title, "author": author}
	_, err := p.search.Index(p.index).AddDocuments([]map[string]any{doc}, nil)
	return err
}

// Rebuild truncates the items table (and the search index, if
// configured) so a fresh replay starts clean.
func (p *CatalogProjection) Rebuild(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `TRUNCATE TABLE items`); err != nil {
		return err
	}
	if p.search == nil {
		return nil
	}
	_, err := p.search.Index(p.index).DeleteAllDocuments()
	return err
}

// Search queries Meilisearch when configured, falling back to a
// Postgres full-text query matching the teacher's to_tsvector approach.
func (p *CatalogProjection) Search(ctx context.Context, query string) ([]catalogRow, error) {
	if p.search != nil {
		res, err := p.search.Index(p.index).Search(query, &meilisearch.SearchRequest{Limit: 10})
		if err != nil {
			return nil, fmt.Errorf("catalog projection: search: %w", err)
		}
		rows := make([]catalogRow, 0, len(res.Hits))
		for _, hit := range res.Hits {
			m, ok := hit.(map[string]any)
			if !ok {
				continue
			}
			id, _ := uuid.Parse(fmt.Sprint(m["id"]))
			rows = append(rows, catalogRow{
				ID:     id,
				ISBN:   fmt.Sprint(m["isbn"]),
				Title:  fmt.Sprint(m["title"]),
				Author: fmt.Sprint(m["author"]),
			})
		}
		return rows, nil
	}

	var rows []catalogRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT id, isbn, title, author, total_copies, available, status
		FROM items
		WHERE to_tsvector('english', title) @@ plainto_tsquery('english', $1)
		   OR to_tsvector('english', author) @@ plainto_tsquery('english', $1)
		LIMIT 10
	`, query)
	if err != nil {
		return nil, fmt.Errorf("catalog projection: database search failed: %w", err)
	}
	return rows, nil
}

var _ projection.Projection = (*CatalogProjection)(nil)
var _ projection.Rebuilder = (*CatalogProjection)(nil)
