// Command client is a minimal interactive driver for the VoteCast
// protocol. The menu loop itself is explicitly out of scope for the
// coordination-fabric spec (spec.md §1) — this exists only so the
// clientsdk package has a runnable, manually-testable front end.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/clientsdk"
	"github.com/votecast/coordinator-service/internal/config"
)

const requestTimeout = 3 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		id         string
		mcastGroup string
		mcastPort  int
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Interactively drive a VoteCast server fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			if mcastGroup != "" {
				cfg.MulticastGroup = mcastGroup
			}
			if mcastPort != 0 {
				cfg.MulticastPort = mcastPort
			}
			if id == "" {
				id = fmt.Sprintf("client-%d", os.Getpid())
			}

			logger, err := newLogger(debug)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			return runMenu(logger, cfg, id)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "this client's id (defaults to client-<pid>)")
	cmd.Flags().StringVar(&mcastGroup, "mcast-group", "", "override the discovery multicast group")
	cmd.Flags().IntVar(&mcastPort, "mcast-port", 0, "override the discovery multicast port")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable verbose development logging")

	return cmd
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runMenu(logger *zap.Logger, cfg config.Config, id string) error {
	c, err := clientsdk.New(id, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	leader, err := c.DiscoverLeader(cfg.MulticastAddr(), 5*time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("Discovered leader: %s\n", leader)

	pending := map[string]clientsdk.VoteDelivery{}
	c.OnVote = func(v clientsdk.VoteDelivery) {
		pending[v.VoteID] = v
		fmt.Printf("\n[vote] %s: %s (options: %v) - cast with: ballot %s <choice>\n> ", v.Topic, v.VoteID, v.Options, v.VoteID)
	}
	c.OnVoteResult = func(voteID, group, topic, winner string) {
		fmt.Printf("\n[result] %s in %s: winner=%s\n> ", topic, group, winner)
	}
	c.OnNewLeader = func(leaderID string) {
		fmt.Printf("\n[leader] fleet elected new leader: %s\n> ", leaderID)
	}

	stop := make(chan struct{})
	go c.Listen(stop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
		os.Exit(0)
	}()

	if err := c.Register(requestTimeout); err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	printMenu()
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		handleCommand(c, pending, line)
	}
}

func printMenu() {
	fmt.Println("Commands: create <group> | join <group> | leave <group> | groups | mine | vote <group> <topic> <timeout> <opt1,opt2,...> | ballot <vote_id> <choice> | quit")
}

func handleCommand(c *clientsdk.Client, pending map[string]clientsdk.VoteDelivery, line string) {
	fields := strings.SplitN(line, " ", 2)
	cmdName := fields[0]
	rest := ""
	if len(fields) > 1 {
		rest = fields[1]
	}

	var err error
	switch cmdName {
	case "create":
		err = c.CreateGroup(rest, requestTimeout)
	case "join":
		err = c.JoinGroup(rest, requestTimeout)
	case "leave":
		err = c.LeaveGroup(rest, requestTimeout)
	case "groups":
		var groups []string
		groups, err = c.GetGroups(requestTimeout)
		if err == nil {
			fmt.Println(groups)
		}
	case "mine":
		var groups []string
		groups, err = c.JoinedGroups(requestTimeout)
		if err == nil {
			fmt.Println(groups)
		}
	case "vote":
		err = handleVoteCommand(c, rest)
	case "ballot":
		err = handleBallotCommand(c, pending, rest)
	case "quit", "exit":
		os.Exit(0)
	default:
		printMenu()
		return
	}

	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func handleVoteCommand(c *clientsdk.Client, rest string) error {
	parts := strings.SplitN(rest, " ", 4)
	if len(parts) != 4 {
		return fmt.Errorf("usage: vote <group> <topic> <timeout-seconds> <opt1,opt2,...>")
	}
	group, topic, timeoutStr, optsStr := parts[0], parts[1], parts[2], parts[3]

	var timeoutSeconds float64
	if _, err := fmt.Sscanf(timeoutStr, "%f", &timeoutSeconds); err != nil {
		return fmt.Errorf("invalid timeout %q: %w", timeoutStr, err)
	}

	options := strings.Split(optsStr, ",")
	return c.StartVote(group, topic, options, time.Duration(timeoutSeconds*float64(time.Second)))
}

func handleBallotCommand(c *clientsdk.Client, pending map[string]clientsdk.VoteDelivery, rest string) error {
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 {
		return fmt.Errorf("usage: ballot <vote_id> <choice>")
	}
	voteID, choice := parts[0], parts[1]

	v, ok := pending[voteID]
	if !ok {
		return fmt.Errorf("no pending vote delivery for %s", voteID)
	}
	return c.CastVote(v.VoteID, v.Group, v.Seq, v.Sender, choice)
}
