package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	cl "nexus/internal/cli"
	"nexus/internal/config"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func main() {
	cfg, err := config.LoadCLI()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	apiBase := cfg.BaseURL

	root := &cobra.Command{
		Use:          "nexus",
		Short:        "Nexus arcade hub client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(&apiBase),
		newMeCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newTreasuryCmd(&apiBase),
		newUsurpCmd(&apiBase),
		newVaultCmd(&apiBase),
		newGuessCmd(&apiBase),
		newAuctionCmd(&apiBase),
		newBidCmd(&apiBase),
		newClaimCmd(&apiBase),
		newTerritoryCmd(&apiBase),
		newAttackCmd(&apiBase),
		newReinforceCmd(&apiBase),
		newJoinCmd(&apiBase),
		newEventsCmd(&apiBase),
		newBetCmd(&apiBase),
		newCoreCmd(&apiBase),
		newIdleCmd(&apiBase),
		newWatchCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimSpace(*apiBase))
}

func requireSession() (cl.Session, error) {
	return cl.LoadSession()
}

// withSession wraps a RunE body with session loading and a request timeout.
func withSession(apiBase *string, fn func(ctx context.Context, client *cl.Client, token string, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		session, err := requireSession()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return fn(ctx, newClient(apiBase), session.Token, args)
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to the hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := promptRequired("Username")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Login(ctx, username, password)
			if err != nil {
				return err
			}
			token := str(out, "token")
			if token == "" {
				return fmt.Errorf("login response had no token")
			}
			if err := cl.SaveSession(cl.Session{Token: token, Username: str(sub(out, "user"), "username")}); err != nil {
				return err
			}
			printSuccess("Logged in. Session saved.")
			return nil
		},
	}
}

func newLogoutCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if session, err := cl.LoadSession(); err == nil {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				_ = newClient(apiBase).Logout(ctx, session.Token)
			}
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newMeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your account",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.Me(ctx, token)
			if err != nil {
				return err
			}
			renderMe(out)
			return nil
		}),
	}
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Richest players first",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.Leaderboard(ctx, token)
			if err != nil {
				return err
			}
			renderLeaderboard(out)
			return nil
		}),
	}
}

func newTreasuryCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "treasury",
		Short: "Show the throne",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.Treasury(ctx, token)
			if err != nil {
				return err
			}
			renderTreasury(out)
			return nil
		}),
	}
}

func newUsurpCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "usurp",
		Short: "Buy the throne",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.Usurp(ctx, token)
			if err != nil {
				return err
			}
			renderVerdict(out)
			return nil
		}),
	}
}

func newVaultCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "vault",
		Short: "Show the vault jackpot and guess history",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.Vault(ctx, token)
			if err != nil {
				return err
			}
			renderVault(out)
			return nil
		}),
	}
}

func newGuessCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "guess <digits>",
		Short: "Guess the vault code",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.Guess(ctx, token, args[0])
			if err != nil {
				return err
			}
			renderVerdict(out)
			if ok, _ := out["success"].(bool); !ok && str(out, "message") != "" {
				return nil
			}
			fmt.Printf("exact %d, partial %d\n", num(out, "matches"), num(out, "partial"))
			return nil
		}),
	}
}

func newAuctionCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "auction",
		Short: "Show the listing on the block",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.Auction(ctx, token)
			if err != nil {
				return err
			}
			renderAuction(out)
			return nil
		}),
	}
}

func newBidCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bid [amount]",
		Short: "Bid on the current listing",
		Args:  cobra.MaximumNArgs(1),
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			var amount int64
			var err error
			if len(args) == 1 {
				amount, err = parseAmount(args[0])
			} else {
				amount, err = promptInt64("Bid amount", 1)
			}
			if err != nil {
				return err
			}
			out, err := client.Bid(ctx, token, amount)
			if err != nil {
				return err
			}
			renderVerdict(out)
			return nil
		}),
	}
}

func newClaimCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "claim",
		Short: "Claim a won auction",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.Claim(ctx, token)
			if err != nil {
				return err
			}
			renderVerdict(out)
			return nil
		}),
	}
}

func newTerritoryCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "territory",
		Short: "Show the faction war map",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.Territory(ctx, token)
			if err != nil {
				return err
			}
			renderTerritory(out)
			return nil
		}),
	}
}

func newAttackCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "attack <x_y>",
		Short: "Attack a sector, e.g. nexus attack 2_3",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.TerritoryAction(ctx, token, args[0], "attack")
			if err != nil {
				return err
			}
			renderVerdict(out)
			return nil
		}),
	}
}

func newReinforceCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reinforce <x_y>",
		Short: "Reinforce a friendly sector",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.TerritoryAction(ctx, token, args[0], "reinforce")
			if err != nil {
				return err
			}
			renderVerdict(out)
			return nil
		}),
	}
}

func newJoinCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "join <faction>",
		Short: "Join a faction (cyber, steampunk, nature); this is permanent",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.JoinFaction(ctx, token, strings.ToLower(args[0]))
			if err != nil {
				return err
			}
			renderVerdict(out)
			return nil
		}),
	}
}

func newEventsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "List betting events",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.BettingEvents(ctx, token)
			if err != nil {
				return err
			}
			renderEvents(out)
			return nil
		}),
	}
}

func newBetCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bet <event-id> <option-id> <amount>",
		Short: "Stake credits on an event outcome",
		Args:  cobra.ExactArgs(3),
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			out, err := client.PlaceBet(ctx, token, args[0], args[1], amount)
			if err != nil {
				return err
			}
			renderVerdict(out)
			return nil
		}),
	}
}

func newCoreCmd(apiBase *string) *cobra.Command {
	core := &cobra.Command{
		Use:   "core",
		Short: "Show the core assault",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.Core(ctx, token)
			if err != nil {
				return err
			}
			renderCore(out)
			return nil
		}),
	}
	core.AddCommand(&cobra.Command{
		Use:   "buy <turret-id>",
		Short: "Buy a turret (laser, railgun, plasma, singularity)",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.BuyTurret(ctx, token, strings.ToLower(args[0]))
			if err != nil {
				return err
			}
			renderVerdict(out)
			return nil
		}),
	})
	return core
}

func newIdleCmd(apiBase *string) *cobra.Command {
	idle := &cobra.Command{
		Use:   "idle",
		Short: "Show your clicker save",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.Idle(ctx, token)
			if err != nil {
				return err
			}
			renderIdle(out)
			return nil
		}),
	}
	idle.AddCommand(&cobra.Command{
		Use:   "cashout",
		Short: "Exchange abdous for credits",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.IdleCashOut(ctx, token)
			if err != nil {
				return err
			}
			renderVerdict(out)
			return nil
		}),
	})
	idle.AddCommand(&cobra.Command{
		Use:   "prestige",
		Short: "Reset progress for permanent shares",
		RunE: withSession(apiBase, func(ctx context.Context, client *cl.Client, token string, args []string) error {
			out, err := client.IdlePrestige(ctx, token)
			if err != nil {
				return err
			}
			renderVerdict(out)
			return nil
		}),
	})
	return idle
}

func newWatchCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <prefix>",
		Short: "Stream live changes for a public path prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			target, err := newClient(apiBase).WatchURL(session.Token, args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
			if err != nil {
				return err
			}
			defer conn.Close()
			go func() {
				<-ctx.Done()
				deadline := time.Now().Add(time.Second)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				_ = conn.Close()
			}()

			printInfo("Watching " + args[0] + " (ctrl-c to stop)")
			for {
				var event map[string]any
				if err := conn.ReadJSON(&event); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				switch str(event, "kind") {
				case "delete":
					danger.Printf("- %s\n", str(event, "path"))
				default:
					accent.Printf("~ %s ", str(event, "path"))
					fmt.Printf("%v\n", event["value"])
				}
			}
		},
	}
}

func parseAmount(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("amount must be a positive whole number")
	}
	return v, nil
}
