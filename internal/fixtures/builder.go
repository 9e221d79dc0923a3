package fixtures

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"binfleet-backend/internal/models"
	"binfleet-backend/internal/store"
)

const day = 24 * time.Hour

// Builder writes entities through a store.Repository. The first error is
// kept and every later call becomes a no-op, so a chain can be checked once
// with Err.
type Builder struct {
	ctx  context.Context
	repo store.Repository
	now  time.Time
	err  error
}

func New(ctx context.Context, repo store.Repository, now time.Time) *Builder {
	return &Builder{ctx: ctx, repo: repo, now: now.UTC()}
}

// Err returns the first error hit by the builder
func (b *Builder) Err() error {
	return b.err
}

// Now is the reference time all relative offsets are measured from
func (b *Builder) Now() time.Time {
	return b.now
}

// DaysAgo returns the reference time shifted back by fractional days
func (b *Builder) DaysAgo(days float64) time.Time {
	return b.now.Add(-time.Duration(days * float64(day)))
}

// Bin creates an active bin with coordinates
func (b *Builder) Bin(number int, street, region string, lat, lng float64) models.Bin {
	bin := models.Bin{
		BinNumber:     number,
		CurrentStreet: street,
		Region:        region,
		Status:        models.BinStatusActive,
		Latitude:      &lat,
		Longitude:     &lng,
	}
	b.createBin(&bin)
	return bin
}

// BinWithoutCoordinates creates an active bin that cannot be routed
func (b *Builder) BinWithoutCoordinates(number int, street, region string) models.Bin {
	bin := models.Bin{
		BinNumber:     number,
		CurrentStreet: street,
		Region:        region,
		Status:        models.BinStatusActive,
	}
	b.createBin(&bin)
	return bin
}

func (b *Builder) createBin(bin *models.Bin) {
	if b.err != nil {
		return
	}
	bin.ID = uuid.New().String()
	if err := b.repo.CreateBin(b.ctx, bin); err != nil {
		b.err = fmt.Errorf("fixture bin %d: %w", bin.BinNumber, err)
	}
}

// Collected records a collection event daysAgo days before the reference time
func (b *Builder) Collected(bin models.Bin, daysAgo float64, fill int) *Builder {
	if b.err != nil {
		return b
	}
	event := models.CollectionEvent{
		BinID:          bin.ID,
		CollectedAt:    b.DaysAgo(daysAgo).Unix(),
		FillPercentage: fill,
	}
	if err := b.repo.RecordCollection(b.ctx, &event); err != nil {
		b.err = fmt.Errorf("fixture collection for bin %d: %w", bin.BinNumber, err)
	}
	return b
}

// Predicted stores a growth prediction computed daysAgo days before the reference time
func (b *Builder) Predicted(bin models.Bin, growth, daysAgo float64) *Builder {
	if b.err != nil {
		return b
	}
	p := models.GrowthPrediction{
		BinID:                   bin.ID,
		PredictedAvgDailyGrowth: growth,
		PredictedAt:             b.DaysAgo(daysAgo).Unix(),
		ModelVersion:            "fixture",
	}
	if _, err := b.repo.InsertPrediction(b.ctx, &p); err != nil {
		b.err = fmt.Errorf("fixture prediction for bin %d: %w", bin.BinNumber, err)
	}
	return b
}

// Officer creates a user with the officer role
func (b *Builder) Officer(name, email string) models.User {
	return b.user(name, email, models.RoleOfficer)
}

// Admin creates a user with the admin role
func (b *Builder) Admin(name, email string) models.User {
	return b.user(name, email, models.RoleAdmin)
}

func (b *Builder) user(name, email, role string) models.User {
	u := models.User{Name: name, Email: email, Role: role}
	if b.err != nil {
		return u
	}
	if err := b.repo.CreateUser(b.ctx, &u); err != nil {
		b.err = fmt.Errorf("fixture user %s: %w", email, err)
	}
	return u
}

// Device registers a push token for a user
func (b *Builder) Device(user models.User, token string) *Builder {
	if b.err != nil {
		return b
	}
	t := models.FCMToken{UserID: user.ID, Token: token, DeviceType: "android"}
	if err := b.repo.RegisterFCMToken(b.ctx, &t); err != nil {
		b.err = fmt.Errorf("fixture token for %s: %w", user.Email, err)
	}
	return b
}
