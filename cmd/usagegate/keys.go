package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/usagegate/adapters/clock"
	"github.com/artpar/usagegate/adapters/sqlite"
	"github.com/artpar/usagegate/app"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Issue and revoke API keys",
	Long: `Manage usagegate API keys.

Each subject can hold multiple keys. The raw key is printed exactly
once at creation; only its hash is stored.

Examples:
  usagegate keys create --subject=acct_42
  usagegate keys create --subject=acct_42 --name="ci pipeline"
  usagegate keys revoke key_abc123`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new API key",
	RunE:  runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var (
	keySubject string
	keyName    string
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)

	keysCreateCmd.Flags().StringVar(&keySubject, "subject", "", "subject ID (required)")
	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "key name (optional)")
	keysCreateCmd.MarkFlagRequired("subject")
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	cfg, db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	identity := app.NewIdentity(app.IdentityDeps{
		Keys:     sqlite.NewKeyStore(db),
		Subjects: sqlite.NewSubjectStore(db),
		Clock:    clock.Real{},
		Logger:   zerolog.Nop(),
	}, cfg.Keys.Prefix)

	rawKey, k, err := identity.IssueKey(context.Background(), keySubject, keyName)
	if err != nil {
		return fmt.Errorf("failed to issue key: %w", err)
	}

	fmt.Printf("Issued key %s for subject %s\n", k.ID, keySubject)
	fmt.Println()
	fmt.Println("Raw key (store it now, it is not shown again):")
	fmt.Printf("  %s\n", rawKey)
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	cfg, db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	identity := app.NewIdentity(app.IdentityDeps{
		Keys:     sqlite.NewKeyStore(db),
		Subjects: sqlite.NewSubjectStore(db),
		Clock:    clock.Real{},
		Logger:   zerolog.Nop(),
	}, cfg.Keys.Prefix)

	if err := identity.RevokeKey(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	fmt.Printf("Revoked key %s\n", args[0])
	return nil
}
