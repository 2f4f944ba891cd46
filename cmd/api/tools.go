package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"proppy/api/internal/signing"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var keygenComment string

var keygenCmd = &cobra.Command{
	Use:   "keygen <path>",
	Short: "Write a new ed25519 signing key in OpenSSH format",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := signing.GenerateKeyPair()
		if err != nil {
			return err
		}
		pemBytes, err := keys.MarshalOpenSSH(keygenComment)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], pemBytes, 0o600); err != nil {
			return fmt.Errorf("write signing key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\n", hex.EncodeToString(keys.PublicKey()))
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify-signature <proposal-id>",
	Short: "Check a stored signature against the service key and the archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		result, err := rt.service.VerifySignature(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	},
}

var (
	bootstrapCompany string
	bootstrapUser    string
	bootstrapEmail   string
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create a company with one user and print a bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		session, token, err := rt.service.Bootstrap(cmd.Context(), bootstrapCompany, bootstrapUser, bootstrapEmail)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "company: %s\nuser: %s\ntoken: %s\n", session.CompanyID, session.UserID, token)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenComment, "comment", "proppy-signing", "comment stored with the key")

	bootstrapCmd.Flags().StringVar(&bootstrapCompany, "company", "", "company name")
	bootstrapCmd.Flags().StringVar(&bootstrapUser, "user", "", "username")
	bootstrapCmd.Flags().StringVar(&bootstrapEmail, "email", "", "user email")
	_ = bootstrapCmd.MarkFlagRequired("company")
	_ = bootstrapCmd.MarkFlagRequired("user")
}
