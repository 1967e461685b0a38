package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pgx "github.com/jackc/pgx/v5"
	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

// schema creates the catalog table. The lowercase HRI column is uniquely
// indexed; expression indexes keep the common list filters off a sequential
// scan.
const schema = `
CREATE TABLE IF NOT EXISTS agent_cards (
    id         UUID PRIMARY KEY,
    hri        TEXT NOT NULL,
    card_json  JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS agent_cards_hri_idx
    ON agent_cards (lower(hri));
CREATE INDEX IF NOT EXISTS agent_cards_name_idx
    ON agent_cards (lower(card_json->>'name'));
CREATE INDEX IF NOT EXISTS agent_cards_tags_idx
    ON agent_cards USING GIN ((card_json->'tags'));
CREATE INDEX IF NOT EXISTS agent_cards_tee_idx
    ON agent_cards ((card_json->'capabilities'->'tee_details'->>'type'));
`

// PostgresCardStore persists the catalog in Postgres with the card stored
// as JSONB.
type PostgresCardStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ CardStore = (*PostgresCardStore)(nil)

// NewPostgresCardStore connects to the database and ensures the schema.
func NewPostgresCardStore(ctx context.Context, databaseURL string, logger *zap.Logger) (*PostgresCardStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	logger.Info("postgres card store ready")
	return &PostgresCardStore{pool: pool, logger: logger}, nil
}

// List runs the filtered, paginated catalog query.
func (s *PostgresCardStore) List(ctx context.Context, query ListQuery) (*CardList, error) {
	query = query.Normalize()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if query.Search != "" {
		p := arg("%" + query.Search + "%")
		where = append(where, fmt.Sprintf(
			"(card_json->>'name' ILIKE %s OR card_json->>'description' ILIKE %s)", p, p))
	}
	if len(query.Tags) > 0 {
		tags, err := json.Marshal(query.Tags)
		if err != nil {
			return nil, err
		}
		where = append(where, fmt.Sprintf("card_json->'tags' @> %s::jsonb", arg(string(tags))))
	}
	if query.HasTEE != nil {
		op := "IS NOT NULL"
		if !*query.HasTEE {
			op = "IS NULL"
		}
		where = append(where, "card_json->'capabilities'->'tee_details' "+op)
	}
	if query.TEEType != "" {
		where = append(where, fmt.Sprintf(
			"lower(card_json->'capabilities'->'tee_details'->>'type') = lower(%s)", arg(query.TEEType)))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM agent_cards"+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count cards: %w", err)
	}

	listSQL := fmt.Sprintf(
		"SELECT id, card_json FROM agent_cards%s ORDER BY lower(hri) LIMIT %s OFFSET %s",
		clause, arg(query.Limit), arg(query.Offset))

	rows, err := s.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	items := make([]CardSummary, 0, query.Limit)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		card, err := decodeStoredCard(raw)
		if err != nil {
			s.logger.Warn("skipping undecodable card", zap.String("id", id), zap.Error(err))
			continue
		}
		items = append(items, summarize(id, card))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &CardList{
		Items:  items,
		Total:  total,
		Limit:  query.Limit,
		Offset: query.Offset,
	}, nil
}

// GetByUUID returns the card stored under the catalog UUID.
func (s *PostgresCardStore) GetByUUID(ctx context.Context, id string) (*types.AgentCard, error) {
	return s.get(ctx, "SELECT card_json FROM agent_cards WHERE id = $1", id)
}

// GetByHRI returns the card for a human-readable id.
func (s *PostgresCardStore) GetByHRI(ctx context.Context, hri string) (*types.AgentCard, error) {
	return s.get(ctx, "SELECT card_json FROM agent_cards WHERE lower(hri) = $1", types.NormalizeHRI(hri))
}

func (s *PostgresCardStore) get(ctx context.Context, sql, ref string) (*types.AgentCard, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, sql, ref).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewCardNotFoundError(ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load card: %w", err)
	}
	return decodeStoredCard(raw)
}

// Put upserts a card under the given UUID.
func (s *PostgresCardStore) Put(ctx context.Context, id string, card *types.AgentCard) error {
	if card == nil {
		return fmt.Errorf("card cannot be nil")
	}
	raw, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to encode card: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO agent_cards (id, hri, card_json)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET hri = EXCLUDED.hri, card_json = EXCLUDED.card_json, updated_at = now()`,
		id, types.NormalizeHRI(card.HumanReadableID), raw)
	if err != nil {
		return fmt.Errorf("failed to store card: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresCardStore) Close() error {
	s.pool.Close()
	return nil
}

func decodeStoredCard(raw []byte) (*types.AgentCard, error) {
	var card types.AgentCard
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fmt.Errorf("stored card is not valid JSON: %w", err)
	}
	return &card, nil
}
