package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/kilupskalvis/listings/internal/remote"
	"github.com/kilupskalvis/listings/internal/server"
	"github.com/spf13/cobra"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage API tokens",
	Long: `Manage the bearer tokens accepted by 'listings serve'.

Tokens live in the file named by server.tokens_file. Only their hashes are
stored; the raw value is printed once on creation. A running server reads the
file at startup, so restart it after changing tokens here, or pass --server
to manage the tokens of a running server through its admin API.

Examples:
  listings tokens create --principal alice --permission rw --desc "alice's laptop"
  listings tokens list
  listings tokens delete <id>
  listings tokens list --server https://listings.example.com --admin-token ...`,
}

var (
	tokenPrincipal  string
	tokenDesc       string
	tokenPermission string
	tokenServer     string
	tokenAdminToken string
)

var tokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a token",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		if tokenPermission != server.PermissionRead && tokenPermission != server.PermissionReadWrite {
			exitError("permission must be %q or %q", server.PermissionRead, server.PermissionReadWrite)
		}
		var id, raw string
		if admin := adminClient(); admin != nil {
			resp, err := admin.CreateToken(cmd.Context(), tokenDesc, tokenPrincipal, tokenPermission)
			if err != nil {
				exitError("%v", err)
			}
			id, raw = resp.ID, resp.Token
		} else {
			token, info, err := openTokenStore().CreateToken(tokenDesc, tokenPrincipal, tokenPermission)
			if err != nil {
				exitError("failed to create token: %v", err)
			}
			id, raw = info.ID, token
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Created token %s for %s (%s)\n", id, tokenPrincipal, tokenPermission)
		fmt.Fprintln(out, raw)
		color.New(color.FgYellow).Fprintln(os.Stderr, "Store this token now; it cannot be shown again.")
	},
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tokens",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		var entries []tokenEntry
		if admin := adminClient(); admin != nil {
			list, err := admin.ListTokens(cmd.Context())
			if err != nil {
				exitError("%v", err)
			}
			for _, t := range list {
				entries = append(entries, tokenEntry{ID: t.ID, Principal: t.Principal, Description: t.Description, Permission: t.Permission})
			}
		} else {
			list, err := openTokenStore().ListTokens()
			if err != nil {
				exitError("failed to list tokens: %v", err)
			}
			for _, t := range list {
				entries = append(entries, tokenEntry{ID: t.ID, Principal: t.Principal, Description: t.Desc, Permission: t.Permission})
			}
		}
		printTokens(cmd.OutOrStdout(), entries)
	},
}

var tokensDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a token",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		if admin := adminClient(); admin != nil {
			err = admin.DeleteToken(cmd.Context(), args[0])
		} else {
			err = openTokenStore().DeleteToken(args[0])
		}
		if err != nil {
			exitError("%v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted token %s\n", args[0])
	},
}

func init() {
	f := tokensCreateCmd.Flags()
	f.StringVar(&tokenPrincipal, "principal", "", "Caller identity the token acts as")
	f.StringVar(&tokenDesc, "desc", "", "Description")
	f.StringVar(&tokenPermission, "permission", server.PermissionRead, "Permission (ro|rw)")
	tokensCreateCmd.MarkFlagRequired("principal")

	pf := tokensCmd.PersistentFlags()
	pf.StringVar(&tokenServer, "server", os.Getenv("LISTINGS_REMOTE"), "Manage tokens of a running server")
	pf.StringVar(&tokenAdminToken, "admin-token", os.Getenv("LISTINGS_ADMIN_TOKEN"), "Admin token for --server")

	tokensCmd.AddCommand(tokensCreateCmd, tokensListCmd, tokensDeleteCmd)
}

func openTokenStore() *server.FileTokenStore {
	cfg := loadConfig()
	tokens := server.NewFileTokenStore(cfg.Server.TokensFile, newLogger(cfg.Log, io.Discard))
	if err := tokens.Load(); err != nil {
		exitError("failed to load tokens from %s: %v", cfg.Server.TokensFile, err)
	}
	return tokens
}

// adminClient returns a client for --server, or nil to use the local file.
func adminClient() *remote.AdminClient {
	if tokenServer == "" {
		return nil
	}
	if tokenAdminToken == "" {
		exitError("--admin-token is required with --server")
	}
	return remote.NewAdminClient(tokenServer, tokenAdminToken)
}

type tokenEntry struct {
	ID          string
	Principal   string
	Description string
	Permission  string
}

func printTokens(w io.Writer, list []tokenEntry) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No tokens")
		return
	}
	for _, t := range list {
		color.New(color.FgYellow).Fprintf(w, "%s  ", t.ID)
		fmt.Fprintf(w, "%-2s  %-16s %s\n", t.Permission, t.Principal, t.Description)
	}
}
