package repository

import (
	"context"

	cashbackdomain "github.com/smallbiznis/subhub/internal/cashback/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() cashbackdomain.Repository {
	return &repo{}
}

func (r *repo) InsertRun(ctx context.Context, db *gorm.DB, run *cashbackdomain.SettlementRun) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO cashback_settlement_runs (
			id, period_key, status, users_settled, users_failed, amount_credited,
			started_at, finished_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.PeriodKey,
		run.Status,
		run.UsersSettled,
		run.UsersFailed,
		run.AmountCredited,
		run.StartedAt,
		run.FinishedAt,
		run.CreatedAt,
		run.UpdatedAt,
	).Error
}

func (r *repo) UpdateRun(ctx context.Context, db *gorm.DB, run *cashbackdomain.SettlementRun) error {
	return db.WithContext(ctx).Exec(
		`UPDATE cashback_settlement_runs
		 SET status = ?, users_settled = ?, users_failed = ?, amount_credited = ?,
		     finished_at = ?, updated_at = ?
		 WHERE id = ?`,
		run.Status,
		run.UsersSettled,
		run.UsersFailed,
		run.AmountCredited,
		run.FinishedAt,
		run.UpdatedAt,
		run.ID,
	).Error
}

func (r *repo) FindRunByPeriodKey(ctx context.Context, db *gorm.DB, periodKey string) (*cashbackdomain.SettlementRun, error) {
	var run cashbackdomain.SettlementRun
	err := db.WithContext(ctx).Raw(
		`SELECT id, period_key, status, users_settled, users_failed, amount_credited,
		        started_at, finished_at, created_at, updated_at
		 FROM cashback_settlement_runs WHERE period_key = ?`,
		periodKey,
	).Scan(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == 0 {
		return nil, nil
	}
	return &run, nil
}
