package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cbt-companion/internal/apperr"
)

func newTestService(t *testing.T) (*Service, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	return NewService(repo, NewTokenIssuer("test-secret", time.Hour), zap.NewNop()), repo
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, NewUser{Name: "alex", Email: "alex@example.com", Password: "s3cret", Role: RolePatient})
	require.NoError(t, err)

	sess, err := svc.Login(ctx, "alex", "s3cret", "PATIENT")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, "alex", sess.User.Name)

	_, err = svc.Login(ctx, "alex", "wrong", "PATIENT")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	// Same name under the other role is a different account.
	_, err = svc.Login(ctx, "alex", "s3cret", "THERAPIST")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestLogin_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, "", "pw", "PATIENT")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Login(ctx, "alex", "pw", "ADMIN")
	require.Error(t, err)
	assert.Equal(t, "Invalid role", apperr.PublicMessage(err, ""))
}

func TestCreateUser_Duplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	in := NewUser{Name: "dr", Email: "dr@example.com", Password: "pw", Role: RoleTherapist}
	_, err := svc.CreateUser(ctx, in)
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, in)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestAssign(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	th, err := svc.CreateUser(ctx, NewUser{Name: "dr", Email: "dr@example.com", Password: "pw", Role: RoleTherapist})
	require.NoError(t, err)
	pt, err := svc.CreateUser(ctx, NewUser{Name: "alex", Email: "alex@example.com", Password: "pw", Role: RolePatient})
	require.NoError(t, err)

	require.NoError(t, svc.Assign(ctx, pt.ID, th.ID))
	require.NoError(t, svc.Assign(ctx, pt.ID, th.ID))

	got, err := repo.GetByID(ctx, pt.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TherapistID)
	assert.Equal(t, th.ID, *got.TherapistID)

	err = svc.Assign(ctx, th.ID, pt.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	err = svc.Assign(ctx, pt.ID, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestBootstrap(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Bootstrap(ctx, "admin", "admin-pw"))
	require.NoError(t, svc.Bootstrap(ctx, "admin", "admin-pw"))
	assert.Len(t, repo.users, 2)

	th, err := repo.FindByNameAndRole(ctx, "admin", RoleTherapist)
	require.NoError(t, err)
	pt, err := repo.FindByNameAndRole(ctx, "admin", RolePatient)
	require.NoError(t, err)
	require.NotNil(t, pt.TherapistID)
	assert.Equal(t, th.ID, *pt.TherapistID)
	assert.Equal(t, "admin_patient@admin.local", pt.Email)

	_, err = svc.Login(ctx, "admin", "admin-pw", "THERAPIST")
	assert.NoError(t, err)
}

func TestBootstrap_DisabledWithoutPassword(t *testing.T) {
	svc, repo := newTestService(t)
	require.NoError(t, svc.Bootstrap(context.Background(), "admin", ""))
	assert.Empty(t, repo.users)
}
