package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/medcore/hms/internal/config"
	"github.com/medcore/hms/internal/domain/scheduling"
	"github.com/medcore/hms/internal/platform/clock"
)

// generateConcurrency bounds how many doctors are generated at once so the
// pool keeps connections for live traffic.
const generateConcurrency = 4

// slotGenerator is the part of the scheduling service the slot commands use.
type slotGenerator interface {
	ListDoctors(ctx context.Context, f scheduling.DoctorFilter) ([]*scheduling.Doctor, error)
	GenerateSlotsForDoctor(ctx context.Context, hospitalID, doctorID uuid.UUID, daysAhead int) (int, error)
}

type generateReport struct {
	Doctors   int
	Generated int
	Failed    int
}

// generateAll generates slots for every active doctor of a hospital. A failing
// doctor is logged and counted; the rest still run.
func generateAll(ctx context.Context, gen slotGenerator, hospitalID uuid.UUID, days int, w io.Writer) (*generateReport, error) {
	doctors, err := gen.ListDoctors(ctx, scheduling.DoctorFilter{HospitalID: hospitalID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	var (
		generated, failed atomic.Int64
		outMu             sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(generateConcurrency)
	for _, d := range doctors {
		g.Go(func() error {
			n, err := gen.GenerateSlotsForDoctor(gctx, hospitalID, d.ID, days)
			if err != nil {
				failed.Add(1)
				outMu.Lock()
				fmt.Fprintf(w, "%s (%s): %v\n", d.ID, d.Name, err)
				outMu.Unlock()
				return nil
			}
			generated.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &generateReport{
		Doctors:   len(doctors),
		Generated: int(generated.Load()),
		Failed:    int(failed.Load()),
	}, nil
}

func resolveHospital(flag string, cfg *config.Config) (uuid.UUID, error) {
	raw := flag
	if raw == "" {
		raw = cfg.DefaultHospital
	}
	if raw == "" {
		return uuid.Nil, fmt.Errorf("--hospital is required when DEFAULT_HOSPITAL_ID is not set")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid hospital id %q: %w", raw, err)
	}
	return id, nil
}

// withApp loads config, connects and builds the service for a one-shot command.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stderr)

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	a, err := newApp(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Maintain the slot ledger",
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate slots for one doctor or every active doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorFlag, _ := cmd.Flags().GetString("doctor")
			hospitalFlag, _ := cmd.Flags().GetString("hospital")
			days, _ := cmd.Flags().GetInt("days")

			return withApp(func(ctx context.Context, a *app) error {
				hospitalID, err := resolveHospital(hospitalFlag, a.cfg)
				if err != nil {
					return err
				}
				if days <= 0 {
					days = a.cfg.SlotGenerationDays
				}
				out := cmd.OutOrStdout()

				if doctorFlag != "" {
					doctorID, err := uuid.Parse(doctorFlag)
					if err != nil {
						return fmt.Errorf("invalid doctor id %q: %w", doctorFlag, err)
					}
					n, err := a.svc.GenerateSlotsForDoctor(ctx, hospitalID, doctorID, days)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Generated %d slot(s) over %d day(s).\n", n, days)
					return nil
				}

				report, err := generateAll(ctx, a.svc, hospitalID, days, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Generated %d slot(s) for %d doctor(s) over %d day(s).\n", report.Generated, report.Doctors, days)
				if report.Failed > 0 {
					return fmt.Errorf("%d doctor(s) failed", report.Failed)
				}
				return nil
			})
		},
	}
	generateCmd.Flags().String("doctor", "", "Doctor id (all active doctors when empty)")
	generateCmd.Flags().String("hospital", "", "Hospital id (defaults to DEFAULT_HOSPITAL_ID)")
	generateCmd.Flags().Int("days", 0, "Days ahead to generate (defaults to SLOT_GENERATION_DAYS)")
	cmd.AddCommand(generateCmd)

	regenerateCmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Replace a doctor's free slots from a date onwards",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorFlag, _ := cmd.Flags().GetString("doctor")
			hospitalFlag, _ := cmd.Flags().GetString("hospital")
			fromFlag, _ := cmd.Flags().GetString("from")

			doctorID, err := uuid.Parse(doctorFlag)
			if err != nil {
				return fmt.Errorf("--doctor must be a doctor id: %w", err)
			}

			return withApp(func(ctx context.Context, a *app) error {
				hospitalID, err := resolveHospital(hospitalFlag, a.cfg)
				if err != nil {
					return err
				}
				from := clock.Today(a.clock)
				if fromFlag != "" {
					if from, err = clock.ParseDate(fromFlag); err != nil {
						return err
					}
				}
				res, err := a.svc.RegenerateSlots(ctx, hospitalID, doctorID, from)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d free slot(s), generated %d from %s.\n",
					res.Deleted, res.Generated, clock.FormatDate(from))
				return nil
			})
		},
	}
	regenerateCmd.Flags().String("doctor", "", "Doctor id")
	regenerateCmd.Flags().String("hospital", "", "Hospital id (defaults to DEFAULT_HOSPITAL_ID)")
	regenerateCmd.Flags().String("from", "", "First date to regenerate, YYYY-MM-DD (defaults to today)")
	_ = regenerateCmd.MarkFlagRequired("doctor")
	cmd.AddCommand(regenerateCmd)

	return cmd
}
