package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	appbootstrap "github.com/wolfman30/clinic-booking-ai/internal/app/bootstrap"
	"github.com/wolfman30/clinic-booking-ai/internal/bookings"
	appconfig "github.com/wolfman30/clinic-booking-ai/internal/config"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

func main() {
	days := flag.Int("days", 14, "number of days of slots to generate")
	from := flag.String("from", "", "first day to generate (YYYY-MM-DD, clinic timezone); defaults to now")
	dryRun := flag.Bool("dry-run", false, "print the slots without inserting them")
	flag.Parse()

	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	start, err := parseFrom(*from, cfg.Location(), time.Now())
	if err != nil {
		logger.Error("invalid -from", "error", err)
		os.Exit(2)
	}
	if *days <= 0 || *days > 90 {
		logger.Error("invalid -days; expected 1-90", "days", *days)
		os.Exit(2)
	}

	slots := bookings.GenerateSlots(appbootstrap.ScheduleTemplate(cfg), start, *days)
	if *dryRun {
		for _, s := range slots {
			fmt.Printf("%s  %s\n", s.Start.In(cfg.Location()).Format("Mon 02 Jan 15:04"), s.Doctor)
		}
		fmt.Printf("%d slots\n", len(slots))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := appbootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	inserted, err := bookings.NewPostgresStore(pool).Seed(ctx, slots)
	if err != nil {
		logger.Error("failed to seed slots", "error", err)
		os.Exit(1)
	}
	logger.Info("slots seeded", "generated", len(slots), "inserted", inserted, "from", start.Format(time.RFC3339))
}

// parseFrom resolves the -from flag in the clinic timezone.
func parseFrom(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.In(loc), nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", raw, err)
	}
	return day, nil
}
