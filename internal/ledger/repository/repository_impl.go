package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	"github.com/smallbiznis/subhub/pkg/db"
	"github.com/smallbiznis/subhub/pkg/db/pagination"
	"gorm.io/gorm"
)

const transactionColumns = `id, user_id, order_id, amount, transaction_type, status, transaction_date, created_at, updated_at`

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, txn *ledgerdomain.Transaction) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.UserID,
		txn.OrderID,
		txn.Amount,
		txn.Type,
		txn.Status,
		txn.TransactionDate,
		txn.CreatedAt,
		txn.UpdatedAt,
	).Error
}

func (r *repo) FindPendingDebitForUpdate(ctx context.Context, conn *gorm.DB, orderID snowflake.ID) (*ledgerdomain.Transaction, error) {
	var txn ledgerdomain.Transaction
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE order_id = ? AND transaction_type = ? AND status = ?
		 ORDER BY transaction_date ASC, id ASC
		 LIMIT 1`+db.ForUpdate(conn),
		orderID,
		ledgerdomain.TransactionTypeDebit,
		ledgerdomain.StatusPending,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) MarkPaid(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE transactions SET status = ?, updated_at = ?
		 WHERE id = ? AND transaction_type = ? AND status = ?`,
		ledgerdomain.StatusPaid,
		at,
		id,
		ledgerdomain.TransactionTypeDebit,
		ledgerdomain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) DeletePendingDebits(ctx context.Context, conn *gorm.DB, orderID snowflake.ID) (int64, error) {
	res := conn.WithContext(ctx).Exec(
		`DELETE FROM transactions WHERE order_id = ? AND transaction_type = ? AND status = ?`,
		orderID,
		ledgerdomain.TransactionTypeDebit,
		ledgerdomain.StatusPending,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) CountPendingDebits(ctx context.Context, conn *gorm.DB, orderID snowflake.ID) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM transactions WHERE order_id = ? AND transaction_type = ? AND status = ?`,
		orderID,
		ledgerdomain.TransactionTypeDebit,
		ledgerdomain.StatusPending,
	).Scan(&count).Error
	return count, err
}

func (r *repo) ListPendingCashbackForUpdate(ctx context.Context, conn *gorm.DB, userID snowflake.ID) ([]ledgerdomain.Transaction, error) {
	var rows []ledgerdomain.Transaction
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE user_id = ? AND transaction_type = ? AND status = ?
		 ORDER BY id ASC`+db.ForUpdate(conn),
		userID,
		ledgerdomain.TransactionTypeCashback,
		ledgerdomain.StatusPending,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkCredited(ctx context.Context, conn *gorm.DB, ids []snowflake.ID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := conn.WithContext(ctx).Exec(
		`UPDATE transactions SET status = ?, updated_at = ?
		 WHERE id IN ? AND transaction_type = ? AND status = ?`,
		ledgerdomain.StatusCredited,
		at,
		ids,
		ledgerdomain.TransactionTypeCashback,
		ledgerdomain.StatusPending,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListUsersWithPendingCashback(ctx context.Context, conn *gorm.DB, afterUserID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := conn.WithContext(ctx).Raw(
		`SELECT DISTINCT user_id
		 FROM transactions
		 WHERE transaction_type = ? AND status = ? AND user_id > ?
		 ORDER BY user_id ASC
		 LIMIT ?`,
		ledgerdomain.TransactionTypeCashback,
		ledgerdomain.StatusPending,
		afterUserID,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListByUser(
	ctx context.Context,
	conn *gorm.DB,
	userID snowflake.ID,
	filter ledgerdomain.HistoryFilter,
	cursor *pagination.Cursor,
	limit int,
) ([]ledgerdomain.Transaction, error) {
	clauses := []string{"user_id = ?"}
	args := []any{userID}

	if filter.Type != "" {
		clauses = append(clauses, "transaction_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		clauses = append(clauses, "transaction_date >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		clauses = append(clauses, "transaction_date < ?")
		args = append(args, *filter.To)
	}
	if cursor != nil {
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		clauses = append(clauses, "(transaction_date < ? OR (transaction_date = ? AND id < ?))")
		args = append(args, cursor.At, cursor.At, cursorID)
	}
	args = append(args, limit)

	var rows []ledgerdomain.Transaction
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE `+strings.Join(clauses, " AND ")+`
		 ORDER BY transaction_date DESC, id DESC
		 LIMIT ?`,
		args...,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) SumByUser(
	ctx context.Context,
	conn *gorm.DB,
	userID snowflake.ID,
	txnType ledgerdomain.TransactionType,
	statuses []ledgerdomain.TransactionStatus,
	from, to time.Time,
) (int64, error) {
	var total int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM transactions
		 WHERE user_id = ? AND transaction_type = ? AND status IN ?
		   AND transaction_date >= ? AND transaction_date < ?`,
		userID,
		txnType,
		statuses,
		from,
		to,
	).Scan(&total).Error
	return total, err
}
