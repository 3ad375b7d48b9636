// Command groupledger is a terminal client for the group expense ledger:
// it joins a group session, records shared expenses, and prints the
// settlement plan.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/okitz/groupledger/internal/config"
	"github.com/okitz/groupledger/internal/models"
	"github.com/okitz/groupledger/internal/money"
	"github.com/okitz/groupledger/internal/service"
	"github.com/okitz/groupledger/internal/session"
	"github.com/okitz/groupledger/internal/storage/sqlite"
	"github.com/okitz/groupledger/pkg/logging"
)

const usage = `usage: groupledger <command> [args]

commands:
  create <title>                create a group and connect
  join <group-id>               join a group and tail its events
  leave <group-id>              leave a group and purge its cache
  kick <group-id> <user-id>     kick a member (owner only)
  expense <group-id> <amount> [title]   record a shared expense
  settle <group-id>             print the settlement plan
  list                          list cached sessions
`

func main() {
	logging.Setup()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	cache, err := sqlite.New(cfg.CachePath)
	if err != nil {
		slog.Error("failed to open cache", "path", cfg.CachePath, "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	if cfg.Token != "" {
		if err := cache.SetAuth(cfg.Token, cfg.UserID); err != nil {
			slog.Error("failed to store auth state", "error", err)
			os.Exit(1)
		}
	}

	dialer := &session.WSDialer{Token: func() string {
		token, _, _ := cache.Auth()
		return token
	}}
	svc := service.NewGroupService(
		cfg.APIBaseURL, cfg.HTTPTimeout, cache,
		session.NewManager(dialer), cfg.UserID, printNotifier{},
	)

	ctx := context.Background()
	if err := run(ctx, svc, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, svc *service.GroupService, command string, args []string) error {
	switch command {
	case "create":
		if len(args) < 1 {
			return fmt.Errorf("create needs a title")
		}
		sess, err := svc.CreateGroup(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("created group %d (%s)\n", sess.GroupID, sess.Title)
		waitForInterrupt()
		return nil

	case "join":
		groupID, err := parseID(args, 0)
		if err != nil {
			return err
		}
		sess, err := svc.JoinGroup(ctx, groupID, false)
		if errors.Is(err, models.ErrGroupFinalized) {
			return printFinal(ctx, svc, groupID)
		}
		if err != nil {
			return err
		}
		fmt.Printf("joined group %d (%s)\n", sess.GroupID, sess.Title)
		if _, err := svc.FetchMembers(ctx, groupID); err != nil {
			slog.Warn("member refresh failed, using cached roster", "error", err)
		}
		waitForInterrupt()
		return nil

	case "leave":
		groupID, err := parseID(args, 0)
		if err != nil {
			return err
		}
		return svc.LeaveGroup(ctx, groupID)

	case "kick":
		groupID, err := parseID(args, 0)
		if err != nil {
			return err
		}
		userID, err := parseID(args, 1)
		if err != nil {
			return err
		}
		return svc.KickMember(ctx, groupID, userID)

	case "expense":
		groupID, err := parseID(args, 0)
		if err != nil {
			return err
		}
		if len(args) < 2 {
			return fmt.Errorf("expense needs an amount")
		}
		amount, err := money.ParseCents(args[1])
		if err != nil {
			return err
		}
		var title string
		if len(args) > 2 {
			title = args[2]
		}
		expense, err := svc.AddExpense(groupID, service.ExpenseInput{Amount: amount, Title: title})
		if err != nil {
			return err
		}
		fmt.Printf("recorded %s (%s)\n", expense.Amount, expense.ID)
		return nil

	case "settle":
		groupID, err := parseID(args, 0)
		if err != nil {
			return err
		}
		plan, err := svc.FetchSettlement(ctx, groupID)
		if err != nil {
			slog.Warn("authoritative settlement unavailable, deriving locally", "error", err)
			plan, err = svc.LocalSettlement(groupID)
			if err != nil {
				return err
			}
		}
		printPlan(plan)
		return nil

	case "list":
		sessions, err := svc.Sessions()
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Printf("%d\t%s\tjoined %s\n", s.GroupID, s.Title, s.JoinedAt.Format("2006-01-02 15:04"))
		}
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func parseID(args []string, i int) (int64, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("missing id argument")
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", args[i])
	}
	return id, nil
}

func printPlan(plan *models.SettlementPlan) {
	if len(plan.Transfers) == 0 {
		fmt.Println("no settlement needed")
		return
	}
	fmt.Printf("total spent: %s\n", plan.TotalExpense())
	for _, t := range plan.Transfers {
		fmt.Printf("  %d -> %d  %s\n", t.FromUserID, t.ToUserID, t.Amount)
	}
}

func printFinal(ctx context.Context, svc *service.GroupService, groupID int64) error {
	final, err := svc.FetchFinal(ctx, groupID)
	if err != nil {
		return err
	}
	fmt.Printf("group %d (%s) ended %s\n", final.GroupID, final.Title, final.EndTime.Format("2006-01-02 15:04"))
	if final.Settlement != nil {
		printPlan(final.Settlement)
	}
	return nil
}

func waitForInterrupt() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

// printNotifier renders reconciler events for the terminal.
type printNotifier struct{}

func (printNotifier) ExpenseAdded(groupID int64, e *models.Expense) {
	fmt.Printf("[%d] %s spent %s on %s\n", groupID, e.PayerName, e.Amount, e.Title)
}

func (printNotifier) MemberJoined(groupID int64, m *models.Member) {
	fmt.Printf("[%d] %s joined\n", groupID, m.NickName)
}

func (printNotifier) MemberRemoved(groupID, userID int64, cause models.LeaveCause) {
	fmt.Printf("[%d] member %d departed (%s)\n", groupID, userID, cause)
}

func (printNotifier) SelfRemoved(groupID int64, cause models.LeaveCause) {
	if cause == models.LeaveCauseKick {
		fmt.Printf("[%d] you were removed from the group\n", groupID)
	} else {
		fmt.Printf("[%d] you left the group\n", groupID)
	}
}

func (printNotifier) PlanUpdated(groupID int64, p *models.SettlementPlan) {
	fmt.Printf("[%d] settlement updated: %d transfers\n", groupID, len(p.Transfers))
}
