package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/prospect-os/internal/database"
	"github.com/blockedby/prospect-os/internal/migrator"
	"github.com/blockedby/prospect-os/internal/models"
	"github.com/blockedby/prospect-os/migrations"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("Skipping integration test; set INTEGRATION_TEST=1 to run")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	m, err := migrator.NewWithFS(migrations.FS)
	require.NoError(t, err)
	require.NoError(t, m.Up(ctx, dbURL))

	db, err := database.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Pool.Exec(ctx, `TRUNCATE user_blacklist, sent_emails, campaigns, company_emails, companies CASCADE`)
	require.NoError(t, err)
	return db
}

func TestBlacklistRepository_AddIsIdempotent(t *testing.T) {
	db := setupDB(t)
	repo := NewBlacklistRepository(db.Pool)
	ctx := context.Background()

	n, err := repo.Add(ctx, "user-1", []string{"123456789"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.Add(ctx, "user-1", []string{"123456789", "123456789"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := repo.Count(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = repo.Add(ctx, "user-2", []string{"123456789"})
	require.NoError(t, err)

	sirens, err := repo.Sirens(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"123456789"}, sirens)
}

func TestCompaniesRepository_UpsertOnSiret(t *testing.T) {
	db := setupDB(t)
	repo := NewCompaniesRepository(db.Pool)
	ctx := context.Background()

	c := &models.Company{Siren: "123456789", Siret: "12345678900011", Name: "ACME", EstablishmentCount: 1}
	require.NoError(t, repo.Save(ctx, c))
	firstID := c.ID

	require.NoError(t, repo.SetWebsite(ctx, firstID, "https://acme.fr"))

	again := &models.Company{Siren: "123456789", Siret: "12345678900011", Name: "ACME SAS", EstablishmentCount: 2}
	require.NoError(t, repo.Save(ctx, again))
	assert.Equal(t, firstID, again.ID)

	got, err := repo.GetByID(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, "ACME SAS", got.Name)
	require.NotNil(t, got.WebsiteURL)
	assert.Equal(t, "https://acme.fr", *got.WebsiteURL)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.Save(ctx, &models.Company{Siren: "1"}), ErrMissingSiret)
}

func TestEmailsRepository_OrderedByPriority(t *testing.T) {
	db := setupDB(t)
	companies := NewCompaniesRepository(db.Pool)
	emails := NewEmailsRepository(db.Pool)
	ctx := context.Background()

	c := &models.Company{Siren: "123456789", Siret: "12345678900011", Name: "ACME"}
	require.NoError(t, companies.Save(ctx, c))

	added, err := emails.Add(ctx, c.ID, []models.CompanyEmail{
		{Email: "info@acme.fr", Priority: 2, IsValid: true},
		{Email: "old-rh@acme.fr", Priority: 1, IsValid: false},
		{Email: "recrutement@acme.fr", Priority: 1, IsValid: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	added, err = emails.Add(ctx, c.ID, []models.CompanyEmail{{Email: "info@acme.fr", Priority: 2, IsValid: true}})
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	list, err := emails.ListByCompany(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 1, list[0].Priority)
	assert.Equal(t, "info@acme.fr", list[2].Email)

	best, err := emails.BestValid(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "recrutement@acme.fr", best.Email)

	_, err = emails.BestValid(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCampaignsRepository_LifecycleAndStats(t *testing.T) {
	db := setupDB(t)
	repo := NewCampaignsRepository(db.Pool)
	ctx := context.Background()

	c := &models.Campaign{Name: "Spring", SubjectTemplate: "Hi {nom_entreprise}", BodyTemplate: "<p>Hello</p>", PerDayCap: 40, DelaySeconds: 45}
	require.NoError(t, repo.Create(ctx, c))
	assert.Equal(t, models.CampaignStatusDraft, c.Status)

	ok, err := repo.Advance(ctx, c.ID, models.CampaignStatusActive)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Advance(ctx, c.ID, models.CampaignStatusDraft)
	require.NoError(t, err)
	assert.False(t, ok, "status never moves backward")

	ok, err = repo.Advance(ctx, c.ID, models.CampaignStatusCompleted)
	require.NoError(t, err)
	assert.True(t, ok)

	now := time.Now()
	require.NoError(t, repo.RecordOutcomes(ctx, []models.SendOutcome{
		{Job: models.EmailJob{To: "a@x.fr", Subject: "s", CampaignID: c.ID}, Success: true, MessageID: "<1@x>", SentAt: now},
		{Job: models.EmailJob{To: "b@x.fr", Subject: "s", CampaignID: c.ID}, Error: "550 mailbox unavailable", SentAt: now},
	}))

	stats, err := repo.Stats(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStats{Total: 2, Sent: 1, Failed: 1}, *stats)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, got.Status)
}
