package application

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogDomain "github.com/fitstack/backoffice/internal/catalog/domain"
	catalogPersistence "github.com/fitstack/backoffice/internal/catalog/infrastructure/persistence"
	"github.com/fitstack/backoffice/internal/packages/domain"
	"github.com/fitstack/backoffice/internal/packages/infrastructure/persistence"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/migrations"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/fitstack/backoffice/internal/shared/infrastructure/persistence"

	_ "modernc.org/sqlite"
)

type ledgerFixture struct {
	db       *sql.DB
	svc      *LedgerService
	packages *persistence.SQLitePackageRepository
	history  *persistence.SQLiteHistoryRepository
	outbox   *outbox.SQLiteRepository
	catalog  *catalogPersistence.SQLiteTemplateRepository
	template *catalogDomain.Template
}

func setupLedger(t *testing.T, freezeExtendsExpiry bool) *ledgerFixture {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.RunSQLiteMigrations(context.Background(), db))

	f := &ledgerFixture{
		db:       db,
		packages: persistence.NewSQLitePackageRepository(db),
		history:  persistence.NewSQLiteHistoryRepository(db),
		outbox:   outbox.NewSQLiteRepository(db),
		catalog:  catalogPersistence.NewSQLiteTemplateRepository(db),
	}

	now := time.Now().UTC()
	f.template = &catalogDomain.Template{
		ID:           uuid.New(),
		Name:         "Monthly 12",
		PriceCents:   60000,
		SessionCount: 12,
		DurationDays: 30,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.catalog.Seed(context.Background(), f.template))

	f.svc = NewLedgerService(
		f.packages,
		f.catalog,
		f.history,
		f.outbox,
		sharedPersistence.NewSQLiteUnitOfWork(db),
		freezeExtendsExpiry,
		nil,
	)
	return f
}

func (f *ledgerFixture) storePackage(t *testing.T, expiresAt time.Time) *domain.UserPackage {
	t.Helper()

	assignedAt := expiresAt.AddDate(0, 0, -f.template.DurationDays)
	p, err := domain.NewUserPackage(uuid.New(), f.template, assignedAt)
	require.NoError(t, err)
	require.NoError(t, f.packages.Create(context.Background(), p))
	p.ClearDomainEvents()
	return p
}

func TestLedgerService_FreezeAndUnfreeze(t *testing.T) {
	f := setupLedger(t, false)
	ctx := context.Background()
	actorID := uuid.New()

	p := f.storePackage(t, time.Now().UTC().AddDate(0, 0, 20))

	days := 7
	frozen, err := f.svc.Freeze(ctx, p.ID(), actorID, &days)
	require.NoError(t, err)
	assert.True(t, frozen.IsFrozen())

	// Double freeze is rejected.
	_, err = f.svc.Freeze(ctx, p.ID(), actorID, nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyFrozen)

	unfrozen, err := f.svc.Unfreeze(ctx, p.ID(), actorID)
	require.NoError(t, err)
	assert.False(t, unfrozen.IsFrozen())
	assert.Equal(t, domain.StatusActive, unfrozen.Status(time.Now().UTC()))

	entries, err := f.history.ListByPackage(ctx, p.ID())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.HistoryUnfrozen, entries[0].Action)
	assert.Equal(t, domain.HistoryFrozen, entries[1].Action)

	msgs, err := f.outbox.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestLedgerService_UnfreezeNotFrozen(t *testing.T) {
	f := setupLedger(t, false)
	p := f.storePackage(t, time.Now().UTC().AddDate(0, 0, 20))

	_, err := f.svc.Unfreeze(context.Background(), p.ID(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFrozen)
}

func TestLedgerService_Renew(t *testing.T) {
	f := setupLedger(t, false)
	ctx := context.Background()
	actorID := uuid.New()

	// Expired yesterday: renewable.
	p := f.storePackage(t, time.Now().UTC().AddDate(0, 0, -1))

	successor, err := f.svc.Renew(ctx, p.ID(), actorID, nil, 2)
	require.NoError(t, err)

	require.NotNil(t, successor.RenewedFromID())
	assert.Equal(t, p.ID(), *successor.RenewedFromID())
	assert.Equal(t, f.template.SessionCount+2, successor.TotalSessions())

	old, err := f.packages.FindByID(ctx, p.ID())
	require.NoError(t, err)
	assert.True(t, old.IsRenewedOut())
	assert.Equal(t, domain.StatusExpired, old.Status(time.Now().UTC()))

	oldHistory, err := f.history.ListByPackage(ctx, p.ID())
	require.NoError(t, err)
	require.Len(t, oldHistory, 1)
	assert.Equal(t, domain.HistoryRenewedOut, oldHistory[0].Action)

	newHistory, err := f.history.ListByPackage(ctx, successor.ID())
	require.NoError(t, err)
	require.Len(t, newHistory, 1)
	assert.Equal(t, domain.HistoryRenewedIn, newHistory[0].Action)

	// Renewing the closed row again fails terminally.
	_, err = f.svc.Renew(ctx, p.ID(), actorID, nil, 0)
	assert.ErrorIs(t, err, domain.ErrRenewedOut)
}

func TestLedgerService_RenewNotInWindow(t *testing.T) {
	f := setupLedger(t, false)
	p := f.storePackage(t, time.Now().UTC().AddDate(0, 0, 20))

	_, err := f.svc.Renew(context.Background(), p.ID(), uuid.New(), nil, 0)
	assert.ErrorIs(t, err, domain.ErrRenewalNotAllowed)
}

func TestLedgerService_ApplyExtension(t *testing.T) {
	f := setupLedger(t, false)
	ctx := context.Background()
	actorID := uuid.New()

	p := f.storePackage(t, time.Now().UTC().AddDate(0, 0, 10))
	before := p.ExpiresAt()

	jobID := uuid.New()
	diff, err := f.svc.ApplyExtension(ctx, p.ID(), domain.ExtensionSpec{
		ExtendDays:  10,
		AddSessions: 3,
	}, actorID, &jobID)
	require.NoError(t, err)

	assert.True(t, diff.NewExpiresAt.Equal(before.AddDate(0, 0, 10)))
	assert.Equal(t, f.template.SessionCount+3, diff.NewRemainingSessions)

	stored, err := f.packages.FindByID(ctx, p.ID())
	require.NoError(t, err)
	assert.True(t, stored.ExpiresAt().Equal(diff.NewExpiresAt))
	assert.Equal(t, diff.NewRemainingSessions, stored.RemainingSessions())

	entries, err := f.history.ListByPackage(ctx, p.ID())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.HistoryExtended, entries[0].Action)
	require.NotNil(t, entries[0].BulkOperationID)
	assert.Equal(t, jobID, *entries[0].BulkOperationID)
}

func TestLedgerService_ApplyExtension_RejectsEmptySpec(t *testing.T) {
	f := setupLedger(t, false)
	p := f.storePackage(t, time.Now().UTC().AddDate(0, 0, 10))

	_, err := f.svc.ApplyExtension(context.Background(), p.ID(), domain.ExtensionSpec{}, uuid.New(), nil)
	assert.ErrorIs(t, err, domain.ErrEmptyExtension)
}

func TestLedgerService_ApplyPricingAdjustment(t *testing.T) {
	f := setupLedger(t, false)
	ctx := context.Background()

	p := f.storePackage(t, time.Now().UTC().AddDate(0, 0, 10))
	before, err := f.packages.FindByID(ctx, p.ID())
	require.NoError(t, err)

	pct := 10.0
	adjustment, err := f.svc.ApplyPricingAdjustment(ctx, p.ID(), domain.PricingSpec{
		DiscountPercent: &pct,
	}, uuid.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-6000), adjustment)

	// Pricing never touches the package row.
	after, err := f.packages.FindByID(ctx, p.ID())
	require.NoError(t, err)
	assert.True(t, after.ExpiresAt().Equal(before.ExpiresAt()))
	assert.Equal(t, before.RemainingSessions(), after.RemainingSessions())
	assert.Equal(t, before.Version(), after.Version())

	entries, err := f.history.ListByPackage(ctx, p.ID())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.HistoryPriceAdjusted, entries[0].Action)
}

func TestLedgerService_UnfreezeExtendsExpiryWhenConfigured(t *testing.T) {
	f := setupLedger(t, true)
	ctx := context.Background()
	actorID := uuid.New()

	p := f.storePackage(t, time.Now().UTC().AddDate(0, 0, 20))
	originalExpiry := p.ExpiresAt()

	_, err := f.svc.Freeze(ctx, p.ID(), actorID, nil)
	require.NoError(t, err)

	unfrozen, err := f.svc.Unfreeze(ctx, p.ID(), actorID)
	require.NoError(t, err)

	// Frozen for well under a day; the expiry shifts by the frozen
	// duration, which rounds to no whole days here.
	assert.False(t, unfrozen.ExpiresAt().Before(originalExpiry))
}
