package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/token"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API credentials",
		Long:    "Create, list, and revoke API credentials used to authenticate against the keygate API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		owner     string
		label     string
		scopes    []string
		expiresIn string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API credential",
		Long:  "Generate a new API credential for a user. The raw secret is shown once and cannot be retrieved again.",
		Example: `  keygate key create --owner ci@example.com --label "CI pipeline" --scopes read,write
  keygate key create --owner ops@example.com --scopes admin --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(owner, label, scopes, expiresIn)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Email of the owning user (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the credential")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{"read"}, "Scopes to grant (read, write, admin)")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Lifetime as a duration, e.g. 720h (default: never)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyCreate(ownerEmail, label string, scopeNames []string, expiresIn string) error {
	scopes, err := model.ParseScopeSet(scopeNames)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if expiresIn != "" {
		d, err := time.ParseDuration(expiresIn)
		if err != nil {
			return fmt.Errorf("parse --expires-in: %w", err)
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := cmd_ctx()

	user, err := st.GetUserByEmail(ctx, ownerEmail)
	if err != nil {
		return fmt.Errorf("user %q not found", ownerEmail)
	}

	hasher := token.NewArgon2Hasher(token.DefaultArgon2Params())
	authSvc := service.NewAuthService(st, hasher, service.Config{}, newCLILogger())
	defer authSvc.Close()

	secret, cred, err := authSvc.IssueCredential(ctx, user.ID, label, scopes, expiresAt)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}

	fmt.Println("API credential created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", secret)
	fmt.Printf("  ID:     %s\n", cred.ID)
	fmt.Printf("  Owner:  %s\n", user.Email)
	fmt.Printf("  Scopes: %v\n", cred.Scopes.Strings())
	if label != "" {
		fmt.Printf("  Label:  %s\n", label)
	}
	if expiresAt != nil {
		fmt.Printf("  Expires: %s\n", expiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a user's API credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(owner, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Email of the owning user (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyList(ownerEmail string, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := cmd_ctx()

	user, err := st.GetUserByEmail(ctx, ownerEmail)
	if err != nil {
		return fmt.Errorf("user %q not found", ownerEmail)
	}

	creds, err := st.ListCredentialsForOwner(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}

	type keyRow struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Label  string `json:"label"`
		Scopes string `json:"scopes"`
		Active bool   `json:"active"`
	}

	rows := make([]keyRow, len(creds))
	for i, c := range creds {
		rows[i] = keyRow{
			ID:     c.ID,
			Key:    c.Masked(),
			Label:  c.Label,
			Scopes: fmt.Sprintf("%v", c.Scopes.Strings()),
			Active: c.Active,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No credentials found. Use 'keygate key create' to create one.")
		return nil
	}

	fmt.Printf("%-38s %-20s %-24s %-20s %-8s\n", "ID", "KEY", "LABEL", "SCOPES", "ACTIVE")
	fmt.Printf("%-38s %-20s %-24s %-20s %-8s\n", "--", "---", "-----", "------", "------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		fmt.Printf("%-38s %-20s %-24s %-20s %-8s\n", k.ID, k.Key, k.Label, k.Scopes, active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "revoke <credential-id>",
		Short: "Revoke an API credential by ID",
		Long:  "Deactivate an API credential, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0], owner)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Email of the owning user (required)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyRevoke(credID, ownerEmail string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := cmd_ctx()

	user, err := st.GetUserByEmail(ctx, ownerEmail)
	if err != nil {
		return fmt.Errorf("user %q not found", ownerEmail)
	}

	if err := st.DisableCredential(ctx, credID, user.ID); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}

	fmt.Printf("Revoked credential %s\n", credID)
	return nil
}
