package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"zhiminhu/p2p-stream/internal/dashboard"
	"zhiminhu/p2p-stream/internal/node"
	"zhiminhu/p2p-stream/pkg/discovery"
	"zhiminhu/p2p-stream/pkg/logger"
	"zhiminhu/p2p-stream/pkg/protocol"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
)

var (
	originAddr        string
	originAnnounce    bool
	originDashboard   string
	originInteractive bool
	demoFPS           int
	demoFrameSize     int
)

var originCmd = &cobra.Command{
	Use:   "origin",
	Short: "Start the stream origin node",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Sugar.Infof("Starting origin node on %s", originAddr)

		n, err := node.New(node.Config{
			ListenAddr: originAddr,
			Role:       protocol.RoleOrigin,
		})
		if err != nil {
			logger.Sugar.Fatal("Error creating origin node: ", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := n.Start(ctx); err != nil {
			logger.Sugar.Fatal("Error starting origin node: ", err)
		}

		if originAnnounce {
			adv := discovery.NewAdvertiser()
			port := listenPort(n.Addr())
			meta := map[string]string{"role": protocol.RoleOrigin, "id": n.ID()}
			if err := adv.Start("", port, meta); err != nil {
				logger.Sugar.Errorf("Failed to announce on mDNS: %v", err)
			} else {
				defer adv.Stop()
			}
		}

		if originDashboard != "" {
			d := dashboard.New(originDashboard, n.Stats())
			d.Start()
			defer d.Stop(context.Background())
		}

		if demoFPS > 0 {
			logger.Sugar.Infof("Demo source: %d fps, %d byte frames", demoFPS, demoFrameSize)
			go runDemoSource(ctx, n)
		}

		if originInteractive {
			fmt.Println("P2P Stream Origin Interactive Shell")
			fmt.Println("Type 'help' for commands.")

			prompt.New(
				func(in string) { nodeExecutor(in, n) },
				nodeCompleter,
				prompt.OptionPrefix("origin> "),
				prompt.OptionTitle("P2P Stream Origin"),
			).Run()
		} else {
			select {}
		}
	},
}

// runDemoSource feeds synthetic frames into the node at a fixed rate, for
// trying the swarm out without a real capture pipeline.
func runDemoSource(ctx context.Context, n *node.Node) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(time.Second / time.Duration(demoFPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := make([]byte, demoFrameSize)
			rng.Read(frame)
			n.InjectFrame(frame)
		}
	}
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

func nodeExecutor(in string, n *node.Node) {
	in = strings.TrimSpace(in)
	blocks := strings.Fields(in)
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping node...")
		n.Stop()
		os.Exit(0)
	case "status":
		fmt.Println(n.GetStatus())
	case "peers":
		snap := n.Stats().Snapshot()
		if len(snap.ActivePeers) == 0 {
			fmt.Println("No peers connected.")
			return
		}
		fmt.Println("Known peers:")
		for _, p := range snap.ActivePeers {
			fmt.Println("- " + p)
		}
	case "connect":
		if len(blocks) < 2 {
			fmt.Println("Usage: connect <ip:port>")
			return
		}
		n.Connect(blocks[1])
		fmt.Println("Handshake sent to " + blocks[1])
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status              - Show node status")
		fmt.Println("  peers               - List known peers")
		fmt.Println("  connect <ip:port>   - Handshake with a remote node")
		fmt.Println("  exit                - Stop node and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func nodeCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show node status"},
		{Text: "peers", Description: "List known peers"},
		{Text: "connect", Description: "Handshake with a remote node"},
		{Text: "exit", Description: "Exit the node"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(originCmd)
	originCmd.Flags().StringVarP(&originAddr, "addr", "a", "0.0.0.0:9000", "Address for the origin to listen on")
	originCmd.Flags().BoolVar(&originAnnounce, "announce", true, "Announce this origin on the LAN over mDNS")
	originCmd.Flags().StringVar(&originDashboard, "dashboard", "", "Serve the stats dashboard on this address, e.g. 127.0.0.1:8080")
	originCmd.Flags().BoolVarP(&originInteractive, "interactive", "i", false, "Start in interactive mode")
	originCmd.Flags().IntVar(&demoFPS, "demo-fps", 0, "Generate synthetic frames at this rate (0 disables)")
	originCmd.Flags().IntVar(&demoFrameSize, "demo-frame-size", 8192, "Synthetic frame size in bytes")
}
