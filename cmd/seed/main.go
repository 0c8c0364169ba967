package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/myhubcares/clinic-scheduling/internal/db"
	"github.com/myhubcares/clinic-scheduling/internal/logging"
)

func main() {
	logging.Init("seed", "dev")
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	seedCtx := context.Background()

	facilities, err := seedFacilities(seedCtx, pool, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("seed facilities")
	}
	providers, err := seedStaff(seedCtx, pool, facilities)
	if err != nil {
		log.Fatal().Err(err).Msg("seed staff")
	}
	if err := seedPatients(seedCtx, pool, facilities, 500); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedSlots(seedCtx, pool, facilities[0], providers, 7); err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}

	log.Info().Msg("seed complete")
}

func seedFacilities(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding facilities")

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := fmt.Sprintf("%s Community Clinic", gofakeit.City())
		_, err := pool.Exec(ctx, `
			INSERT INTO facilities (id, name, active, created_at, updated_at)
			VALUES ($1, $2, true, now(), now())
		`, id, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// seedStaff creates a handful of users per role at each facility, plus a few
// facility-unscoped case managers. Returns the physician/nurse ids so slots
// can reference them.
func seedStaff(ctx context.Context, pool *pgxpool.Pool, facilities []uuid.UUID) ([]uuid.UUID, error) {
	log.Info().Msg("seeding staff users")

	roles := []string{"admin", "physician", "nurse", "case_manager", "lab_personnel"}
	var providers []uuid.UUID

	insert := func(role string, facilityID *uuid.UUID) (uuid.UUID, error) {
		id := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO users (id, role, facility_id, first_name, last_name, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, true, now(), now())
		`, id, role, facilityID, gofakeit.FirstName(), gofakeit.LastName())
		return id, err
	}

	for _, facility := range facilities {
		f := facility
		for _, role := range roles {
			for i := 0; i < 2; i++ {
				id, err := insert(role, &f)
				if err != nil {
					return nil, err
				}
				if role == "physician" || role == "nurse" {
					providers = append(providers, id)
				}
			}
		}
	}

	// Unscoped case managers see every facility's bookings.
	for i := 0; i < 2; i++ {
		if _, err := insert("case_manager", nil); err != nil {
			return nil, err
		}
	}

	return providers, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, facilities []uuid.UUID, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	for i := 0; i < count; i++ {
		first := gofakeit.FirstName()
		last := gofakeit.LastName()
		facility := facilities[gofakeit.Number(0, len(facilities)-1)]

		// Most patients get a linked user account so they can confirm
		// appointments and receive notifications.
		var userID *uuid.UUID
		if gofakeit.Number(0, 9) < 8 {
			id := uuid.New()
			_, err := pool.Exec(ctx, `
				INSERT INTO users (id, role, facility_id, first_name, last_name, active, created_at, updated_at)
				VALUES ($1, 'patient', NULL, $2, $3, true, now(), now())
			`, id, first, last)
			if err != nil {
				return err
			}
			userID = &id
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO patients (id, user_id, first_name, last_name, facility_id, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, true, now(), now())
		`, uuid.New(), userID, first, last, facility)
		if err != nil {
			return err
		}
	}
	return nil
}

// seedSlots provisions half-hour slots for the named facility's providers
// over the coming days. Facilities without slot rows stay in overlap-only
// booking mode.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, facilityID uuid.UUID, providers []uuid.UUID, days int) error {
	log.Info().Int("days", days).Msg("seeding availability slots")

	for day := 1; day <= days; day++ {
		date := time.Now().AddDate(0, 0, day)
		dayStart := time.Date(date.Year(), date.Month(), date.Day(), 9, 0, 0, 0, time.UTC)

		for _, provider := range providers {
			p := provider
			for i := 0; i < 8; i++ {
				start := dayStart.Add(time.Duration(i) * 30 * time.Minute)
				end := start.Add(30 * time.Minute)
				_, err := pool.Exec(ctx, `
					INSERT INTO availability_slots (id, facility_id, provider_id, slot_date, start_time, end_time, status, created_at, updated_at)
					VALUES ($1, $2, $3, $4::date, $5, $6, 'available', now(), now())
				`, uuid.New(), facilityID, p, start, start, end)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}
