package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	er "github.com/credstack/credstack/internal/errors"
	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/repository"
)

// stubAccountRepository serves a fixed set of accounts; the controller only
// reads, so every mutation is a no-op.
type stubAccountRepository struct {
	accounts map[string]*models.Account
}

func (r *stubAccountRepository) Create(ctx context.Context, account *models.Account) error {
	return nil
}

func (r *stubAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	account, ok := r.accounts[id]
	if !ok {
		return nil, er.ErrNotFound
	}
	return account, nil
}

func (r *stubAccountRepository) GetByNormalizedEmail(ctx context.Context, ownerID, normalizedEmail string) (*models.Account, error) {
	return nil, er.ErrNotFound
}

func (r *stubAccountRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Account, error) {
	return nil, nil
}

func (r *stubAccountRepository) Update(ctx context.Context, account *models.Account) error {
	return nil
}

func (r *stubAccountRepository) Delete(ctx context.Context, id string) error {
	return nil
}

func (r *stubAccountRepository) WriteOtp(ctx context.Context, accountID, code string, fetchedAt, expiresAt time.Time) error {
	return nil
}

func (r *stubAccountRepository) ClearExpiredOtps(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type fakeGrantStore struct {
	grants map[string]*models.AccessGrant
}

func key(accountID, userID string) string {
	return accountID + "|" + userID
}

func (r *fakeGrantStore) Create(ctx context.Context, grant *models.AccessGrant) error {
	r.grants[key(grant.AccountID, grant.UserID)] = grant
	return nil
}

func (r *fakeGrantStore) Get(ctx context.Context, accountID, userID string) (*models.AccessGrant, error) {
	grant, ok := r.grants[key(accountID, userID)]
	if !ok {
		return nil, er.ErrNotFound
	}
	return grant, nil
}

func (r *fakeGrantStore) ListByAccount(ctx context.Context, accountID string) ([]*models.AccessGrant, error) {
	var result []*models.AccessGrant
	for _, grant := range r.grants {
		if grant.AccountID == accountID {
			result = append(result, grant)
		}
	}
	return result, nil
}

func (r *fakeGrantStore) ListByUser(ctx context.Context, userID string) ([]*models.AccessGrant, error) {
	var result []*models.AccessGrant
	for _, grant := range r.grants {
		if grant.UserID == userID {
			result = append(result, grant)
		}
	}
	return result, nil
}

func (r *fakeGrantStore) Delete(ctx context.Context, accountID, userID string) error {
	delete(r.grants, key(accountID, userID))
	return nil
}

func (r *fakeGrantStore) DeleteByAccount(ctx context.Context, accountID string) error {
	for k, grant := range r.grants {
		if grant.AccountID == accountID {
			delete(r.grants, k)
		}
	}
	return nil
}

func getTestLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func newTestController(t *testing.T) (*AccessControllerService, *fakeGrantStore) {
	t.Helper()

	accounts := &stubAccountRepository{accounts: map[string]*models.Account{
		"acct-1": {ID: "acct-1", OwnerID: "owner"},
	}}
	grants := &fakeGrantStore{grants: make(map[string]*models.AccessGrant)}
	repos := &repository.Repositories{
		AccountRepository:     accounts,
		AccessGrantRepository: grants,
	}
	return NewAccessControllerService(repos, getTestLogger()), grants
}

func TestAccessController_CanRead(t *testing.T) {
	controller, grants := newTestController(t)
	ctx := context.Background()

	ok, err := controller.CanRead(ctx, "owner", "acct-1")
	require.NoError(t, err)
	assert.True(t, ok, "owner can always read")

	ok, err = controller.CanRead(ctx, "stranger", "acct-1")
	require.NoError(t, err)
	assert.False(t, ok, "a user without a grant cannot read")

	ok, err = controller.CanRead(ctx, "", "acct-1")
	require.NoError(t, err)
	assert.False(t, ok, "an empty caller identity never reads")

	_, err = controller.CanRead(ctx, "owner", "missing")
	assert.ErrorIs(t, err, er.ErrNotFound)

	grants.grants[key("acct-1", "friend")] = &models.AccessGrant{AccountID: "acct-1", UserID: "friend"}
	ok, err = controller.CanRead(ctx, "friend", "acct-1")
	require.NoError(t, err)
	assert.True(t, ok, "a grantee can read")
}

func TestAccessController_Share(t *testing.T) {
	controller, grants := newTestController(t)
	ctx := context.Background()

	err := controller.Share(ctx, "stranger", "acct-1", "friend")
	assert.ErrorIs(t, err, er.ErrNotOwner)

	err = controller.Share(ctx, "owner", "acct-1", "owner")
	assert.ErrorIs(t, err, er.ErrSelfGrant)

	require.NoError(t, controller.Share(ctx, "owner", "acct-1", "friend"))
	assert.Len(t, grants.grants, 1)

	// re-sharing with the same user is a no-op, not an error
	require.NoError(t, controller.Share(ctx, "owner", "acct-1", "friend"))
	assert.Len(t, grants.grants, 1)
}

func TestAccessController_Revoke(t *testing.T) {
	controller, grants := newTestController(t)
	ctx := context.Background()

	require.NoError(t, controller.Share(ctx, "owner", "acct-1", "friend"))

	err := controller.Revoke(ctx, "friend", "acct-1", "friend")
	assert.ErrorIs(t, err, er.ErrNotOwner)

	require.NoError(t, controller.Revoke(ctx, "owner", "acct-1", "friend"))
	assert.Empty(t, grants.grants)

	// revoking an absent grant is a no-op
	require.NoError(t, controller.Revoke(ctx, "owner", "acct-1", "friend"))
}

func TestAccessController_GranteesFor(t *testing.T) {
	controller, _ := newTestController(t)
	ctx := context.Background()

	require.NoError(t, controller.Share(ctx, "owner", "acct-1", "friend"))
	require.NoError(t, controller.Share(ctx, "owner", "acct-1", "colleague"))

	grantees, err := controller.GranteesFor(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, grantees, 2)
}
