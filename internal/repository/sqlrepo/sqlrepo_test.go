package sqlrepo

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnirelay/internal/model"
	"omnirelay/internal/repository"
)

func newService(title string) *model.Service {
	return &model.Service{
		HostToken:   uuid.NewString(),
		ClientToken: uuid.NewString(),
		Title:       title,
	}
}

func TestServiceRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewServiceRepo(OpenTest(t))

	svc := newService("Museum Exhibit")
	require.NoError(t, repo.Create(ctx, svc))
	assert.False(t, svc.CreatedOn.IsZero())

	got, err := repo.GetByHostToken(ctx, svc.HostToken)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, svc.ClientToken, got.ClientToken)
	assert.Nil(t, got.PublicCode)

	got, err = repo.GetByClientToken(ctx, svc.ClientToken)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, svc.HostToken, got.HostToken)

	missing, err := repo.GetByHostToken(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = repo.Create(ctx, newService("Museum Exhibit"))
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	svc.AllowPublicCode = true
	svc.Title = "Renamed"
	require.NoError(t, repo.Update(ctx, svc))
	got, err = repo.GetByHostToken(ctx, svc.HostToken)
	require.NoError(t, err)
	assert.True(t, got.AllowPublicCode)
	assert.Equal(t, "Renamed", got.Title)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, svc.HostToken))
	got, err = repo.GetByHostToken(ctx, svc.HostToken)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestServiceRepoPublicCode(t *testing.T) {
	ctx := context.Background()
	repo := NewServiceRepo(OpenTest(t))

	a, b := newService("a"), newService("b")
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	require.NoError(t, repo.SetPublicCode(ctx, a.HostToken, "ABCD"))
	got, err := repo.GetByPublicCode(ctx, "ABCD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.HostToken, got.HostToken)
	assert.Equal(t, "ABCD", got.Code())

	err = repo.SetPublicCode(ctx, b.HostToken, "ABCD")
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	require.NoError(t, repo.SetPublicCode(ctx, a.HostToken, ""))
	got, err = repo.GetByPublicCode(ctx, "ABCD")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.SetPublicCode(ctx, a.HostToken, "EFGH"))
	require.NoError(t, repo.SetPublicCode(ctx, b.HostToken, "IJKL"))
	n, err := repo.ClearPublicCodes(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestSessionRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepo(OpenTest(t))

	serviceID := uuid.NewString()
	s := &model.Session{ID: uuid.NewString(), ServiceID: serviceID, Code: "ABCD", GroupKey: "exhibit"}
	require.NoError(t, repo.Create(ctx, s))

	err := repo.Create(ctx, &model.Session{ID: uuid.NewString(), ServiceID: serviceID, Code: "EFGH"})
	assert.ErrorIs(t, err, repository.ErrDuplicate, "one session per service")

	err = repo.Create(ctx, &model.Session{ID: uuid.NewString(), ServiceID: uuid.NewString(), Code: "ABCD"})
	assert.ErrorIs(t, err, repository.ErrDuplicate, "codes are unique")

	require.NoError(t, repo.IncrementGuests(ctx, "ABCD"))
	require.NoError(t, repo.IncrementGuests(ctx, "ABCD"))
	got, err := repo.GetByServiceID(ctx, serviceID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.GuestCount)

	removed, err := repo.DeleteByCode(ctx, "ABCD")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.DeleteByCode(ctx, "ABCD")
	require.NoError(t, err)
	assert.False(t, removed)

	got, err = repo.GetByCode(ctx, "ABCD")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVisitorRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewVisitorRepo(OpenTest(t))

	serviceID := uuid.NewString()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &model.Visitor{ID: uuid.NewString(), ServiceID: serviceID, Code: "ABCD"}))
	}
	require.NoError(t, repo.Create(ctx, &model.Visitor{ID: uuid.NewString(), ServiceID: uuid.NewString()}))

	n, err := repo.CountByService(ctx, serviceID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
