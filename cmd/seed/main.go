package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicore/episode-service/internal/db"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

func main() {
	logger.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDoctors(context.Background(), pool, 50); err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedLabCatalog(context.Background(), pool); err != nil {
		logger.Fatal().Err(err).Msg("seed lab catalog")
	}

	logger.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding doctors")

	specialties := []string{
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

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}

// seedLabCatalog inserts a small fixed test catalog with the real parameter
// sets each panel measures.
func seedLabCatalog(ctx context.Context, pool *pgxpool.Pool) error {
	catalog := map[string][]struct {
		name string
		unit string
	}{
		"Complete Blood Count": {
			{"Hemoglobin", "g/dL"},
			{"WBC Count", "10^9/L"},
			{"Platelet Count", "10^9/L"},
			{"Hematocrit", "%"},
		},
		"Lipid Panel": {
			{"Total Cholesterol", "mg/dL"},
			{"HDL", "mg/dL"},
			{"LDL", "mg/dL"},
			{"Triglycerides", "mg/dL"},
		},
		"Thyroid Panel": {
			{"TSH", "mIU/L"},
			{"Free T4", "ng/dL"},
			{"Free T3", "pg/mL"},
		},
		"Basic Metabolic Panel": {
			{"Glucose", "mg/dL"},
			{"Creatinine", "mg/dL"},
			{"Sodium", "mmol/L"},
			{"Potassium", "mmol/L"},
		},
	}

	logger.Info().Int("tests", len(catalog)).Msg("seeding lab catalog")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for testName, params := range catalog {
		testID := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO lab_tests (id, name, created_at)
			VALUES ($1, $2, now())
		`, testID, testName)
		if err != nil {
			return err
		}

		for _, p := range params {
			_, err := tx.Exec(ctx, `
				INSERT INTO lab_test_parameters (id, lab_test_id, name, unit)
				VALUES ($1, $2, $3, $4)
			`, uuid.New(), testID, p.name, p.unit)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}
