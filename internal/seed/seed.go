// Package seed populates a development database with a small set of
// tenants, messages, and appointments so aggregation runs produce
// non-empty snapshots out of the box.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	eventdomain "github.com/waybook/pulse/internal/eventstore/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	demoTenantBarber = "demo-barbershop"
	demoTenantSpa    = "demo-spa"
)

// EnsureDemoData seeds demo tenants with conversation and appointment
// history. Idempotent: an already-seeded database is left untouched.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing eventdomain.Tenant
		err := tx.Where("id = ?", demoTenantBarber).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		if err := seedTenants(tx); err != nil {
			return err
		}
		if err := seedConversations(tx, now); err != nil {
			return err
		}
		return seedAppointments(tx, now)
	})
}

func seedTenants(tx *gorm.DB) error {
	tenants := []eventdomain.Tenant{
		{ID: demoTenantBarber, Name: "Demo Barbershop", Status: "active"},
		{ID: demoTenantSpa, Name: "Demo Spa", Status: "active"},
	}
	return tx.Create(&tenants).Error
}

func seedConversations(tx *gorm.DB, now time.Time) error {
	var messages []eventdomain.MessageEvent

	// A booked session: greeting, price question, confirmed booking.
	bookedSession := uuid.NewString()
	base := now.Add(-48 * time.Hour)
	customer := "+15550100"
	messages = append(messages,
		message(demoTenantBarber, bookedSession, &customer, base, true, nil, nil),
		message(demoTenantBarber, bookedSession, &customer, base.Add(2*time.Minute), false, strptr("price_inquiry"), fptr(0.91)),
		message(demoTenantBarber, bookedSession, &customer, base.Add(5*time.Minute), false, strptr("appointment_created"), fptr(0.97)),
	)

	// An abandoned session with no outcome.
	abandoned := uuid.NewString()
	other := "+15550101"
	messages = append(messages,
		message(demoTenantBarber, abandoned, &other, base.Add(3*time.Hour), true, nil, nil),
	)

	// A spa cancellation.
	cancelSession := uuid.NewString()
	spaCustomer := "+15550200"
	messages = append(messages,
		message(demoTenantSpa, cancelSession, &spaCustomer, base.Add(6*time.Hour), true, nil, nil),
		message(demoTenantSpa, cancelSession, &spaCustomer, base.Add(6*time.Hour+4*time.Minute), false, strptr("appointment_cancelled"), fptr(0.88)),
	)

	return tx.Create(&messages).Error
}

func seedAppointments(tx *gorm.DB, now time.Time) error {
	appointments := []eventdomain.AppointmentEvent{
		{
			ID:          uuid.NewString(),
			TenantID:    demoTenantBarber,
			Status:      eventdomain.AppointmentStatusConfirmed,
			StartTime:   now.Add(24 * time.Hour),
			CreatedAt:   now.Add(-48 * time.Hour),
			QuotedPrice: fptr(35),
		},
		{
			ID:          uuid.NewString(),
			TenantID:    demoTenantBarber,
			Status:      eventdomain.AppointmentStatusCompleted,
			StartTime:   now.Add(-20 * time.Hour),
			CreatedAt:   now.Add(-72 * time.Hour),
			QuotedPrice: fptr(35),
			FinalPrice:  fptr(40),
		},
		{
			ID:        uuid.NewString(),
			TenantID:  demoTenantSpa,
			Status:    eventdomain.AppointmentStatusCancelled,
			StartTime: now.Add(-10 * time.Hour),
			CreatedAt: now.Add(-40 * time.Hour),
		},
	}
	return tx.Create(&appointments).Error
}

func message(tenantID, sessionID string, userID *string, at time.Time, fromUser bool, outcome *string, confidence *float64) eventdomain.MessageEvent {
	var tokens *int64
	var apiCost *float64
	if !fromUser {
		tokens = i64ptr(420)
		apiCost = fptr(0.0031)
	}
	return eventdomain.MessageEvent{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		UserID:   userID,
		ConversationContext: datatypes.JSONMap{
			"session_id": sessionID,
		},
		CreatedAt:           at,
		IsFromUser:          fromUser,
		ConversationOutcome: outcome,
		TokensUsed:          tokens,
		APICostUSD:          apiCost,
		ConfidenceScore:     confidence,
	}
}

func strptr(s string) *string { return &s }
func fptr(f float64) *float64 { return &f }
func i64ptr(n int64) *int64   { return &n }
