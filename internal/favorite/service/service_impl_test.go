package service_test

import (
	"context"
	"testing"

	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/subhub/internal/catalog/repository"
	favoritedomain "github.com/smallbiznis/subhub/internal/favorite/domain"
	favoriterepo "github.com/smallbiznis/subhub/internal/favorite/repository"
	favoritesvc "github.com/smallbiznis/subhub/internal/favorite/service"
	"github.com/smallbiznis/subhub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFavorites(t *testing.T) {
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	fixtures := testutil.NewFixtures(t, conn, node)
	svc := favoritesvc.New(favoritesvc.Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    favoriterepo.Provide(),
		Catalog: catalogrepo.Provide(),
	})
	ctx := context.Background()

	user := fixtures.User(0)
	other := fixtures.User(0)
	music := fixtures.Subscription(0)
	video := fixtures.Subscription(0)

	_, err := svc.Add(ctx, user.ID, music.ID)
	require.NoError(t, err)
	_, err = svc.Add(ctx, user.ID, video.ID)
	require.NoError(t, err)
	_, err = svc.Add(ctx, other.ID, music.ID)
	require.NoError(t, err)

	_, err = svc.Add(ctx, user.ID, music.ID)
	assert.ErrorIs(t, err, favoritedomain.ErrAlreadyFavorite)

	_, err = svc.Add(ctx, user.ID, 42)
	assert.ErrorIs(t, err, catalogdomain.ErrSubscriptionNotFound)

	items, err := svc.List(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.NoError(t, svc.Remove(ctx, user.ID, music.ID))
	assert.ErrorIs(t, svc.Remove(ctx, user.ID, music.ID), favoritedomain.ErrNotFavorite)

	items, err = svc.List(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, video.ID, items[0].SubscriptionID)

	items, err = svc.List(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
