package testutil

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	"github.com/smallbiznis/subhub/internal/pricing"
	userdomain "github.com/smallbiznis/subhub/internal/user/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Fixtures inserts catalog and user rows directly.
type Fixtures struct {
	t     *testing.T
	db    *gorm.DB
	genID *snowflake.Node
}

func NewFixtures(t *testing.T, db *gorm.DB, genID *snowflake.Node) *Fixtures {
	return &Fixtures{t: t, db: db, genID: genID}
}

func (f *Fixtures) User(balance int64) userdomain.User {
	f.t.Helper()
	now := time.Now().UTC()
	id := f.genID.Generate()
	user := userdomain.User{
		ID:        id,
		Username:  "user-" + id.String(),
		Email:     id.String() + "@example.com",
		Balance:   balance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(f.t, f.db.Create(&user).Error)
	return user
}

func (f *Fixtures) Subscription(cashbackPercent int) catalogdomain.Subscription {
	f.t.Helper()
	now := time.Now().UTC()
	id := f.genID.Generate()
	sub := catalogdomain.Subscription{
		ID:              id,
		Name:            "Service " + id.String(),
		Slug:            "service-" + id.String(),
		CashbackPercent: cashbackPercent,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(f.t, f.db.Create(&sub).Error)
	return sub
}

// Tariff creates a tariff whose derived prices come from base and discount.
func (f *Fixtures) Tariff(subscriptionID snowflake.ID, period pricing.Period, base int64, discount int) catalogdomain.Tariff {
	f.t.Helper()
	now := time.Now().UTC()
	tariff := catalogdomain.Tariff{
		ID:              f.genID.Generate(),
		SubscriptionID:  subscriptionID,
		Period:          period,
		BasePrice:       base,
		DiscountPercent: discount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(f.t, tariff.ApplyPrices())
	require.NoError(f.t, f.db.Create(&tariff).Error)
	return tariff
}

func (f *Fixtures) Balance(userID snowflake.ID) int64 {
	f.t.Helper()
	var balance int64
	require.NoError(f.t, f.db.Raw(`SELECT balance FROM users WHERE id = ?`, userID).Scan(&balance).Error)
	return balance
}

// Transactions returns the ledger rows of a user ordered by id.
func (f *Fixtures) Transactions(userID snowflake.ID) []ledgerdomain.Transaction {
	f.t.Helper()
	var rows []ledgerdomain.Transaction
	require.NoError(f.t, f.db.Raw(
		`SELECT * FROM transactions WHERE user_id = ? ORDER BY id`, userID,
	).Scan(&rows).Error)
	return rows
}

// CountTransactions counts a user's rows of one type and status.
func (f *Fixtures) CountTransactions(userID snowflake.ID, txnType ledgerdomain.TransactionType, status ledgerdomain.TransactionStatus) int {
	f.t.Helper()
	n := 0
	for _, row := range f.Transactions(userID) {
		if row.Type == txnType && row.Status == status {
			n++
		}
	}
	return n
}

func (f *Fixtures) SetBalance(userID snowflake.ID, balance int64) {
	f.t.Helper()
	require.NoError(f.t, f.db.Exec(`UPDATE users SET balance = ? WHERE id = ?`, balance, userID).Error)
}
