package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/cipherlaunch/launchpad/chain"
	"github.com/cipherlaunch/launchpad/schemas"
	launchpad "github.com/cipherlaunch/launchpad/sdk/go"
	"github.com/cipherlaunch/launchpad/services/gateway"
)

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func addressArg(s string) (common.Address, error) {
	addr, err := chain.ParseAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%q: %w", s, err)
	}
	return addr, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCards(w io.Writer, cards []gateway.TokenCard) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSYMBOL\tNAME\tPROGRESS\tTOKEN")
	for _, c := range cards {
		progress := "-"
		if c.Progress != nil {
			progress = fmt.Sprintf("%.2f%%", *c.Progress)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", c.Index, c.Symbol, c.Name, progress, c.Token.Hex())
	}
	return tw.Flush()
}

func (a *app) tokensCmd() *cobra.Command {
	var (
		soaring bool
		limit   int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "List the newest tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			c := a.client()
			var (
				cards []gateway.TokenCard
				err   error
			)
			if soaring {
				cards, err = c.Soaring(ctx, limit)
			} else {
				cards, err = c.Newest(ctx, limit)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), cards)
			}
			return printCards(cmd.OutOrStdout(), cards)
		},
	}
	cmd.Flags().BoolVar(&soaring, "soaring", false, "Order by mint progress")
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of tokens (gateway default when 0)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func (a *app) tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <address>",
		Short: "Show one token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := addressArg(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			detail, err := a.client().Token(ctx, addr)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), detail)
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var (
		form     schemas.CreateTokenForm
		iconPath string
		hidden   bool
		keep     bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a confidential token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hidden {
				f := false
				form.TotalVisible = &f
			}
			if keep {
				f := false
				form.RenounceOnCreation = &f
			}
			if err := form.Validate(); err != nil {
				return err
			}

			var icon *launchpad.Icon
			if iconPath != "" {
				file, err := os.Open(iconPath)
				if err != nil {
					return err
				}
				defer file.Close()
				icon = &launchpad.Icon{Filename: filepath.Base(iconPath), Data: file}
			}

			w, closeFn, err := a.wallet()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := a.context(cmd)
			defer cancel()
			ev, err := w.CreateToken(ctx, &form, icon)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ev)
		},
	}

	f := cmd.Flags()
	f.StringVar(&form.Name, "name", "", "Token name")
	f.StringVar(&form.Symbol, "symbol", "", "Token symbol")
	f.StringVar(&form.Description, "description", "", "Description")
	f.StringVar(&form.IconCID, "icon-cid", "", "Already pinned icon CID")
	f.StringVar((*string)(&form.MaxSupply), "max-supply", "", "Maximum supply")
	f.StringVar((*string)(&form.PerMint), "per-mint", "", "Amount minted per publicMint call")
	f.StringVar((*string)(&form.PerWalletLimit), "per-wallet", "0", "Mints per wallet (0 = unlimited)")
	f.StringVar((*string)(&form.CreatorReservePct), "creator-pct", "", "Creator reserve percentage")
	f.StringVar((*string)(&form.PublicMintPct), "public-pct", "", "Public mint percentage")
	f.StringVar(&iconPath, "icon", "", "Icon file to pin before creating")
	f.BoolVar(&hidden, "hide-supply", false, "Keep total supply confidential")
	f.BoolVar(&keep, "keep-ownership", false, "Do not renounce ownership on creation")
	return cmd
}

func (a *app) mintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mint <token>",
		Short: "Mint from the public allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := addressArg(args[0])
			if err != nil {
				return err
			}
			w, closeFn, err := a.wallet()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := a.context(cmd)
			defer cancel()
			receipt, err := w.Mint(ctx, tok)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "minted in %s (block %d)\n", receipt.TxHash.Hex(), receipt.BlockNumber)
			return nil
		},
	}
}

func (a *app) dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard [address]",
		Short: "List tokens an account created, minted or holds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var account common.Address
			if len(args) == 1 {
				addr, err := addressArg(args[0])
				if err != nil {
					return err
				}
				account = addr
			} else {
				key, err := chain.ParsePrivateKey(a.cfg.Wallet.PrivateKey)
				if err != nil {
					return fmt.Errorf("pass an address or set PRIVATE_KEY: %w", err)
				}
				account = crypto.PubkeyToAddress(key.PublicKey)
			}

			ctx, cancel := a.context(cmd)
			defer cancel()
			rows, err := a.client().Dashboard(ctx, account)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SYMBOL\tCREATOR\tMINTS\tBALANCE\tTOKEN")
			for _, r := range rows {
				balance := "encrypted"
				if r.KnownBalance != "" {
					balance = r.KnownBalance
				}
				fmt.Fprintf(tw, "%s\t%t\t%d\t%s\t%s\n", r.Symbol, r.IsCreator, r.MintCount, balance, r.Token.Hex())
			}
			return tw.Flush()
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <token>",
		Short: "Decrypt your confidential balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := addressArg(args[0])
			if err != nil {
				return err
			}
			w, closeFn, err := a.wallet()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := a.context(cmd)
			defer cancel()
			value, err := w.DecryptBalance(ctx, tok)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <token> <to> <amount>",
		Short: "Send an encrypted amount",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := addressArg(args[0])
			if err != nil {
				return err
			}
			req := schemas.TransferRequest{To: args[1], Amount: schemas.FormValue(args[2])}
			if err := req.Validate(); err != nil {
				return err
			}

			w, closeFn, err := a.wallet()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := a.context(cmd)
			defer cancel()
			receipt, err := w.SendConfidential(ctx, tok, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent in %s\n", receipt.TxHash.Hex())
			return nil
		},
	}
}

func (a *app) uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Pin a file to IPFS through the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			ctx, cancel := a.context(cmd)
			defer cancel()
			cid, err := a.client().Upload(ctx, filepath.Base(args[0]), file)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cid)
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the gateway encryption bridge state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			status, err := a.client().FHEStatus(ctx)
			if err != nil {
				return err
			}
			line := fmt.Sprintf("encryption bridge: %s", status.State)
			if status.Error != "" {
				line += " (" + status.Error + ")"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
			return nil
		},
	}
}
