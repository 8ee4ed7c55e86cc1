package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/outboundhq/engine/internal/domain"
)

// ErrSendConfigNotFound is returned when a send-config row doesn't exist.
var ErrSendConfigNotFound = errors.New("send config not found")

// SendConfigRepo manages per-user provider credential bundles (spec §3).
type SendConfigRepo struct{ db *sql.DB }

// NewSendConfigRepo creates a Postgres-backed send-config repository.
func NewSendConfigRepo(db *sql.DB) *SendConfigRepo { return &SendConfigRepo{db: db} }

func (r *SendConfigRepo) Get(ctx context.Context, id string) (*domain.SendConfig, error) {
	return getSendConfig(ctx, r.db, id)
}

// getSendConfig is shared with BatchRepo.GetSendConfig so both
// repositories read the table through the same scan logic.
func getSendConfig(ctx context.Context, db *sql.DB, id string) (*domain.SendConfig, error) {
	sc := &domain.SendConfig{}
	var config, rateLimit []byte
	err := db.QueryRowContext(ctx, `
		SELECT id, user_id, name, module, config, rate_limit, is_default, is_active
		FROM send_configs
		WHERE id = $1
	`, id).Scan(&sc.ID, &sc.UserID, &sc.Name, &sc.Module, &config, &rateLimit, &sc.IsDefault, &sc.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrSendConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get send config: %w", err)
	}
	sc.ConfigJSON = json.RawMessage(config)
	if len(rateLimit) > 0 {
		var rl domain.RateLimit
		if err := json.Unmarshal(rateLimit, &rl); err != nil {
			return nil, fmt.Errorf("decode rate limit: %w", err)
		}
		sc.RateLimit = &rl
	}
	return sc, nil
}

func (r *SendConfigRepo) ListByUser(ctx context.Context, userID string) ([]domain.SendConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, module, config, rate_limit, is_default, is_active
		FROM send_configs
		WHERE user_id = $1 AND is_active = true
		ORDER BY is_default DESC, name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list send configs: %w", err)
	}
	defer rows.Close()

	var out []domain.SendConfig
	for rows.Next() {
		var sc domain.SendConfig
		var config, rateLimit []byte
		if err := rows.Scan(&sc.ID, &sc.UserID, &sc.Name, &sc.Module, &config, &rateLimit, &sc.IsDefault, &sc.IsActive); err != nil {
			return nil, fmt.Errorf("scan send config: %w", err)
		}
		sc.ConfigJSON = json.RawMessage(config)
		if len(rateLimit) > 0 {
			var rl domain.RateLimit
			if err := json.Unmarshal(rateLimit, &rl); err == nil {
				sc.RateLimit = &rl
			}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (r *SendConfigRepo) Create(ctx context.Context, sc *domain.SendConfig) (string, error) {
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	var rateLimit []byte
	if sc.RateLimit != nil {
		var err error
		rateLimit, err = json.Marshal(sc.RateLimit)
		if err != nil {
			return "", fmt.Errorf("marshal rate limit: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO send_configs (id, user_id, name, module, config, rate_limit, is_default, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, sc.ID, sc.UserID, sc.Name, sc.Module, []byte(sc.ConfigJSON), rateLimit, sc.IsDefault, sc.IsActive)
	if err != nil {
		return "", fmt.Errorf("create send config: %w", err)
	}
	return sc.ID, nil
}

// WebhookSecret implements webhookintake.ModuleSecretResolver: moduleId
// is a webhook-module send_config's id, and the inbound signature
// header/secret come from its decoded domain.WebhookConfig.
func (r *SendConfigRepo) WebhookSecret(ctx context.Context, moduleID string) (secret, headerName string, err error) {
	sc, err := getSendConfig(ctx, r.db, moduleID)
	if err != nil {
		return "", "", err
	}
	if sc.Module != domain.ModuleWebhook {
		return "", "", fmt.Errorf("send config %s is not a webhook module", moduleID)
	}
	cfg, err := sc.DecodeConfig()
	if err != nil {
		return "", "", fmt.Errorf("decode webhook config: %w", err)
	}
	wc, ok := cfg.(domain.WebhookConfig)
	if !ok {
		return "", "", fmt.Errorf("send config %s: unexpected config type", moduleID)
	}
	return wc.InboundSigningSecret, wc.InboundSignatureHeader, nil
}

func (r *SendConfigRepo) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE send_configs SET is_active = false, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate send config: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSendConfigNotFound
	}
	return nil
}
