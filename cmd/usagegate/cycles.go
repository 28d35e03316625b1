package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/usagegate/adapters/clock"
	"github.com/artpar/usagegate/adapters/idgen"
	"github.com/artpar/usagegate/adapters/sqlite"
	"github.com/artpar/usagegate/app"
)

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Billing cycle maintenance",
	Long: `Billing cycle maintenance.

The server closes elapsed cycles on a schedule; this command runs the
same pass once, for cron-driven deployments or manual catch-up.

Examples:
  usagegate cycles close`,
}

var cyclesCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close all elapsed billing cycles",
	RunE:  runCyclesClose,
}

func init() {
	rootCmd.AddCommand(cyclesCmd)

	cyclesCmd.AddCommand(cyclesCloseCmd)
}

func runCyclesClose(cmd *cobra.Command, args []string) error {
	cfg, db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	plans, err := cfg.DomainPlans()
	if err != nil {
		return err
	}
	pricing, err := cfg.Pricing()
	if err != nil {
		return err
	}

	billing := app.NewBilling(app.BillingDeps{
		Ledger:   sqlite.NewLedgerStore(db),
		Cycles:   sqlite.NewCycleStore(db),
		Payments: sqlite.NewPaymentStore(db),
		Subjects: sqlite.NewSubjectStore(db),
		Clock:    clock.Real{},
		IDGen:    idgen.UUID{},
		Logger:   zerolog.Nop(),
	}, app.BillingConfig{
		Plans:             plans,
		CapabilityPricing: pricing,
	})

	closed, err := billing.CloseElapsedCycles(context.Background(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to close cycles: %w", err)
	}

	if closed == 0 {
		fmt.Println("No elapsed cycles to close.")
		return nil
	}
	fmt.Printf("Closed %d billing cycle(s)\n", closed)
	return nil
}
