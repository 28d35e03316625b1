package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/usagegate/config"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect the plan catalog",
	Long: `Inspect subscription plans and capability pricing.

Plans come from the config file (or the built-in defaults) and define
rate limits, monthly quotas, and pricing.

Examples:
  usagegate plans list
  usagegate plans pricing`,
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all plans",
	RunE:  runPlansList,
}

var plansPricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "List per-capability call prices",
	RunE:  runPlansPricing,
}

func init() {
	rootCmd.AddCommand(plansCmd)

	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansPricingCmd)
}

func runPlansList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	plans, err := cfg.DomainPlans()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPER MIN\tPER HOUR\tPER DAY\tMONTHLY\tPER CALL\tFEE")
	fmt.Fprintln(w, "--\t----\t-------\t--------\t-------\t-------\t--------\t---")
	for _, p := range plans {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t$%s\t$%s\n",
			p.ID, p.Name,
			p.CallsPerMinute, p.CallsPerHour, p.CallsPerDay, p.MonthlyCalls,
			p.PricePerCall.String(), p.MonthlyFee.String())
	}
	w.Flush()
	return nil
}

func runPlansPricing(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pricing, err := cfg.Pricing()
	if err != nil {
		return err
	}

	capabilities := make([]string, 0, len(pricing))
	for capability := range pricing {
		capabilities = append(capabilities, capability)
	}
	sort.Strings(capabilities)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CAPABILITY\tPER CALL")
	fmt.Fprintln(w, "----------\t--------")
	for _, capability := range capabilities {
		fmt.Fprintf(w, "%s\t$%s\n", capability, pricing[capability].String())
	}
	w.Flush()
	return nil
}
