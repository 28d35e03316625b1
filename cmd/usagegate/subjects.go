package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/usagegate/adapters/sqlite"
	"github.com/artpar/usagegate/config"
	"github.com/artpar/usagegate/ports"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "Manage billed subjects",
	Long: `Manage usagegate subjects.

A subject is a billed, rate-limited identity. Each subject carries a
subscription plan and owns zero or more API keys.

Examples:
  usagegate subjects list
  usagegate subjects create --id=acct_42 --plan=starter
  usagegate subjects set-plan acct_42 professional`,
}

var subjectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subjects",
	RunE:  runSubjectsList,
}

var subjectsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new subject",
	RunE:  runSubjectsCreate,
}

var subjectsSetPlanCmd = &cobra.Command{
	Use:   "set-plan <subject-id> <plan-id>",
	Short: "Change a subject's plan",
	Args:  cobra.ExactArgs(2),
	RunE:  runSubjectsSetPlan,
}

var (
	subjectID   string
	subjectPlan string
)

func init() {
	rootCmd.AddCommand(subjectsCmd)

	subjectsCmd.AddCommand(subjectsListCmd)
	subjectsCmd.AddCommand(subjectsCreateCmd)
	subjectsCmd.AddCommand(subjectsSetPlanCmd)

	subjectsCreateCmd.Flags().StringVar(&subjectID, "id", "", "subject ID (required)")
	subjectsCreateCmd.Flags().StringVar(&subjectPlan, "plan", "free", "initial plan ID")
	subjectsCreateCmd.MarkFlagRequired("id")
}

func runSubjectsList(cmd *cobra.Command, args []string) error {
	_, db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewSubjectStore(db)
	subjects, err := store.List(context.Background(), 100, 0)
	if err != nil {
		return fmt.Errorf("failed to list subjects: %w", err)
	}

	if len(subjects) == 0 {
		fmt.Println("No subjects found.")
		fmt.Println()
		fmt.Println("Create one with: usagegate subjects create --id=<subject-id>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLAN\tSTATUS\tCREATED")
	fmt.Fprintln(w, "--\t----\t------\t-------")
	for _, s := range subjects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.PlanID, s.Status, s.CreatedAt.Format("2006-01-02"))
	}
	w.Flush()
	return nil
}

func runSubjectsCreate(cmd *cobra.Command, args []string) error {
	cfg, db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	plans, err := cfg.DomainPlans()
	if err != nil {
		return err
	}
	found := false
	for _, p := range plans {
		if p.ID == subjectPlan {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown plan %q, run 'usagegate plans list'", subjectPlan)
	}

	now := time.Now().UTC()
	store := sqlite.NewSubjectStore(db)
	err = store.Create(context.Background(), ports.Subject{
		ID:        subjectID,
		PlanID:    subjectPlan,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to create subject: %w", err)
	}

	fmt.Printf("Created subject %s on plan %s\n", subjectID, subjectPlan)
	return nil
}

func runSubjectsSetPlan(cmd *cobra.Command, args []string) error {
	_, db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewSubjectStore(db)
	if err := store.SetPlan(context.Background(), args[0], args[1], time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set plan: %w", err)
	}

	fmt.Printf("Subject %s moved to plan %s\n", args[0], args[1])
	return nil
}

func openDatabase() (*config.Config, *sqlite.DB, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return cfg, db, nil
}
