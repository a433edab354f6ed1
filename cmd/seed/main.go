package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/clinova/allocation-engine/internal/db"
	"github.com/clinova/allocation-engine/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var serviceDurations = []int{15, 20, 30, 45, 60}

func main() {
	logging.Init("seed", os.Getenv("APP_ENV"))
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

	if err := seedDoctors(context.Background(), pool, 50); err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedServices(context.Background(), pool, 3); err != nil {
		log.Fatal().Err(err).Msg("seed services")
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding doctors")

	for i := 0; i < count; i++ {
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]
		general := specialty == "General Practice" || gofakeit.Bool() && gofakeit.Bool()

		// 08:00-16:00 or 09:00-17:00 style windows on a 15/20/30 minute grid.
		startHour := gofakeit.Number(8, 10)
		endHour := startHour + gofakeit.Number(6, 8)
		slotMinutes := []int{15, 20, 30}[gofakeit.Number(0, 2)]

		daysOff := []int32{0} // Sunday
		if gofakeit.Bool() {
			daysOff = append(daysOff, 6) // Saturday too
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, general_purpose, day_start_min, day_end_min, days_off, slot_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		`, uuid.New(), "Dr. "+gofakeit.Name(), specialty, general,
			startHour*60, endHour*60, daysOff, slotMinutes)
		if err != nil {
			return err
		}
	}

	return nil
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, perCategory int) error {
	log.Info().Int("per_category", perCategory).Msg("seeding services")

	for _, category := range specialties {
		for i := 0; i < perCategory; i++ {
			duration := serviceDurations[gofakeit.Number(0, len(serviceDurations)-1)]

			_, err := pool.Exec(ctx, `
				INSERT INTO services (id, name, category, duration_minutes, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), category+" "+gofakeit.HipsterWord(), category, duration)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	for i := 0; i < count; i++ {
		var email *string
		if gofakeit.Number(0, 9) < 8 {
			e := gofakeit.Email()
			email = &e
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, uuid.New(), gofakeit.Name(), email)
		if err != nil {
			return err
		}
	}

	return nil
}
