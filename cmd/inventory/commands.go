package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/megayours/pfp-inventory/internal/api/handlers"
	"github.com/megayours/pfp-inventory/internal/auth"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/service"
	"github.com/megayours/pfp-inventory/internal/wallet"
)

var (
	apiURL    string
	statePath string
	output    string
)

// NewRootCmd returns the root command of the inventory CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "inventory",
		Short:         "Browse and manage PFP tokens through the inventory gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", getenv("INVENTORY_API_URL", "http://localhost:8080"), "gateway base URL")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", defaultStatePath(), "file that keeps the open tab")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "output format: json|text")

	rootCmd.AddCommand(newTabCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newConnectCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newTokensCmd())
	rootCmd.AddCommand(newEquippedCmd())
	rootCmd.AddCommand(newItemsCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newBrowseCmd())

	return rootCmd
}

func client() (*APIClient, *tabState, error) {
	s, err := loadState(statePath)
	if err != nil {
		return nil, nil, err
	}
	return NewAPIClient(s.APIURL, s.Token), s, nil
}

// explain turns the gateway's auth answers into next steps.
func explain(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return fmt.Errorf("%w; run `inventory connect`", err)
	}
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tab",
		Short: "Open or close the CLI's gateway tab",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "open",
		Short: "Open a new tab and remember its token",
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := NewAPIClient(apiURL, "").OpenTab()
			if err != nil {
				return err
			}
			if err := saveState(statePath, &tabState{
				APIURL:    apiURL,
				TabID:     opened.TabID,
				Token:     opened.Token,
				ExpiresAt: opened.ExpiresAt,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Opened tab %s (expires %s)\n", opened.TabID, opened.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "close",
		Short: "Log out, close the tab and forget it",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, s, err := client()
			if err != nil {
				return err
			}
			var apiErr *APIError
			if err := c.CloseTab(); err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Closed tab %s\n", s.TabID)
			return clearState(statePath)
		},
	})
	return cmd
}

func printAuth(w io.Writer, snap service.AuthSnapshot) {
	walletLine := snap.Wallet
	if walletLine == "" {
		walletLine = color.New(color.Faint).Sprint("not connected")
	}
	fmt.Fprintf(w, "Wallet:  %s\n", walletLine)
	for _, s := range []auth.State{snap.Primary, snap.Hub} {
		status := string(s.Status)
		if s.Loading {
			status += " (loading)"
		}
		line := fmt.Sprintf("%-8s %s", string(s.Chain)+":", statusColor(s.Status).Sprint(status))
		if s.AccountID != "" {
			line += "  account " + s.AccountID
		}
		if s.ExpiresAt != nil {
			line += "  until " + s.ExpiresAt.Local().Format("15:04")
		}
		fmt.Fprintln(w, line)
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the tab's wallet, chain sessions and upload progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := client()
			if err != nil {
				return err
			}
			me, err := c.Me()
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), me)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tab:     %s\n", me.TabID)
			printAuth(cmd.OutOrStdout(), me.Auth)
			if me.Upload.FileName != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Upload:  %s %d%% %s\n", me.Upload.FileName, me.Upload.Progress, me.Upload.Status)
			}
			return nil
		},
	}
}

func newConnectCmd() *cobra.Command {
	var (
		keyHex   string
		chains   []string
		register bool
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect a wallet key and log in to the chains",
		Long: "Connect keeps a socket open to the tab while it runs and answers the gateway's\n" +
			"signature requests with the given key. Sessions outlive the command.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyHex == "" {
				return errors.New("a wallet key is required (--key or WALLET_PRIVATE_KEY)")
			}
			signer, err := wallet.NewLocalSigner(keyHex)
			if err != nil {
				return err
			}
			c, s, err := client()
			if err != nil {
				return err
			}

			link, err := dialWallet(s.APIURL, s.Token, signer, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer link.Close()

			if _, err := c.ConnectWallet(signer.Address()); err != nil {
				return err
			}
			for _, name := range chains {
				chain, err := domain.ParseChainName(name)
				if err != nil {
					return err
				}
				state, err := c.ChainAction(chain, "connect")
				if err != nil {
					return err
				}
				if state.Status == domain.AuthStatusNotRegistered {
					if !register {
						color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "No account on %s; rerun with --register to create one\n", chain)
						continue
					}
					if _, err := c.ChainAction(chain, "register"); err != nil {
						return err
					}
				}
			}

			me, err := c.Me()
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), me.Auth)
			}
			printAuth(cmd.OutOrStdout(), me.Auth)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", getenv("WALLET_PRIVATE_KEY", ""), "hex private key of the wallet")
	cmd.Flags().StringSliceVar(&chains, "chain", []string{string(domain.ChainPrimary), string(domain.ChainHub)}, "chains to connect")
	cmd.Flags().BoolVar(&register, "register", false, "register an account where none exists")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End both chain sessions and forget stored login keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := client()
			if err != nil {
				return err
			}
			snap, err := c.Logout()
			if err != nil {
				return err
			}
			printAuth(cmd.OutOrStdout(), *snap)
			return nil
		},
	}
}

func printToken(w io.Writer, t handlers.TokenResponse) {
	bold := color.New(color.Bold)
	fmt.Fprintf(w, "%s  %s #%d  %s\n", bold.Sprint(t.Name), t.Collection, t.ID, color.New(color.Faint).Sprint(t.UID.String()))
	if len(t.Domains) == 0 {
		fmt.Fprintln(w, "    no models")
		return
	}
	fmt.Fprintf(w, "    models: %s\n", strings.Join(t.Domains, ", "))
}

func newTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens",
		Short: "List the wallet's PFP tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := client()
			if err != nil {
				return err
			}
			tokens, err := c.Tokens()
			if err != nil {
				return explain(err)
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), tokens)
			}
			if len(tokens) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tokens")
			}
			for _, t := range tokens {
				printToken(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func newEquippedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "equipped",
		Short: "Show the equipped PFP",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := client()
			if err != nil {
				return err
			}
			token, err := c.Equipped()
			if err != nil {
				return explain(err)
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), token)
			}
			if token == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing equipped")
				return nil
			}
			printToken(cmd.OutOrStdout(), *token)
			return nil
		},
	}
}

func newItemsCmd() *cobra.Command {
	var slot string
	cmd := &cobra.Command{
		Use:       "items <fishing_rods|equipment|weapons>",
		Short:     "List one of the non-PFP inventories",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"fishing_rods", "equipment", "weapons"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := client()
			if err != nil {
				return err
			}
			items, err := c.Items(args[0], slot)
			if err != nil {
				return explain(err)
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), items)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No items")
			}
			for _, it := range items {
				line := fmt.Sprintf("%s  %s #%d", color.New(color.Bold).Sprint(it.Name), it.Collection, it.ID)
				if it.Amount > 1 {
					line += fmt.Sprintf("  x%d", it.Amount)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "equipment slot")
	return cmd
}

func newUploadCmd() *cobra.Command {
	var modelDomain, mode string
	cmd := &cobra.Command{
		Use:   "upload <token-uid> <file>",
		Short: "Upload a 3D model and attach it to a token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := client()
			if err != nil {
				return err
			}
			res, err := c.UploadModel(args[0], args[1], modelDomain, mode)
			if err != nil {
				return explain(err)
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Attached %s to domain %s\n", res.File.URL, res.Domain)
			return nil
		},
	}
	cmd.Flags().StringVar(&modelDomain, "domain", "", "domain to attach the model under")
	cmd.Flags().StringVar(&mode, "mode", "new", "replace an existing domain or add a new one (replace|new)")
	cmd.MarkFlagRequired("domain")
	return cmd
}
