package service_test

import (
	"context"
	"testing"

	"github.com/smallbiznis/subhub/internal/testutil"
	userdomain "github.com/smallbiznis/subhub/internal/user/domain"
	userrepo "github.com/smallbiznis/subhub/internal/user/repository"
	usersvc "github.com/smallbiznis/subhub/internal/user/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) userdomain.Service {
	t.Helper()
	return usersvc.New(usersvc.Params{
		DB:       testutil.NewDB(t),
		Log:      zap.NewNop(),
		GenID:    testutil.NewNode(t),
		Repo:     userrepo.Provide(),
		Balances: userrepo.ProvideBalanceStore(),
	})
}

func TestCreate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	user, err := svc.Create(ctx, userdomain.CreateUserRequest{
		Username:       " jane ",
		Email:          "jane@example.com",
		FirstName:      "Jane",
		InitialBalance: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, "jane", user.Username)
	assert.Equal(t, int64(500), user.Balance)

	got, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)
	assert.Equal(t, int64(500), got.Balance)

	_, err = svc.Create(ctx, userdomain.CreateUserRequest{Username: "jane", Email: "other@example.com"})
	assert.ErrorIs(t, err, userdomain.ErrUsernameTaken)

	_, err = svc.Create(ctx, userdomain.CreateUserRequest{Username: "", Email: "x@example.com"})
	assert.ErrorIs(t, err, userdomain.ErrInvalidUsername)

	_, err = svc.Create(ctx, userdomain.CreateUserRequest{Username: "bob", Email: "bob"})
	assert.ErrorIs(t, err, userdomain.ErrInvalidEmail)

	_, err = svc.Create(ctx, userdomain.CreateUserRequest{Username: "bob", Email: "bob@example.com", InitialBalance: -1})
	assert.ErrorIs(t, err, userdomain.ErrInvalidAmount)

	_, err = svc.Get(ctx, 42)
	assert.ErrorIs(t, err, userdomain.ErrUserNotFound)
}

func TestTopUp(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	user, err := svc.Create(ctx, userdomain.CreateUserRequest{Username: "jane", Email: "jane@example.com"})
	require.NoError(t, err)

	updated, err := svc.TopUp(ctx, user.ID, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), updated.Balance)

	updated, err = svc.TopUp(ctx, user.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(300), updated.Balance)
	assert.Equal(t, int64(2), updated.Version)

	_, err = svc.TopUp(ctx, user.ID, 0)
	assert.ErrorIs(t, err, userdomain.ErrInvalidAmount)

	_, err = svc.TopUp(ctx, 42, 100)
	assert.ErrorIs(t, err, userdomain.ErrUserNotFound)
}
