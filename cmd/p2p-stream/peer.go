package main

import (
	"context"
	"fmt"
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
	peerAddr        string
	peerConnect     string
	peerDiscover    bool
	peerPolicy      string
	peerDashboard   string
	peerInteractive bool
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Start a viewer node",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Sugar.Infof("Starting viewer node on %s, policy %s", peerAddr, peerPolicy)

		n, err := node.New(node.Config{
			ListenAddr: peerAddr,
			Role:       protocol.RoleViewer,
			Policy:     peerPolicy,
		})
		if err != nil {
			logger.Sugar.Fatal("Error creating viewer node: ", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := n.Start(ctx); err != nil {
			logger.Sugar.Fatal("Error starting viewer node: ", err)
		}

		origin := peerConnect
		if origin == "" && peerDiscover {
			logger.Sugar.Info("Browsing the LAN for an origin node...")
			findCtx, findCancel := context.WithTimeout(ctx, 10*time.Second)
			info, err := discovery.FindOrigin(findCtx)
			findCancel()
			if err != nil {
				logger.Sugar.Fatal("Discovery failed: ", err)
			}
			origin = info.Addr()
			logger.Sugar.Infof("Discovered origin %s (%s)", origin, info.InstanceName)
		}
		if origin == "" {
			logger.Sugar.Fatal("No origin: pass --connect ip:port or --discover")
		}
		n.Connect(origin)

		if peerDashboard != "" {
			d := dashboard.New(peerDashboard, n.Stats())
			d.Start()
			defer d.Stop(context.Background())
		}

		go drainFrames(ctx, n)

		if peerInteractive {
			fmt.Println("P2P Stream Viewer Interactive Shell")
			fmt.Println("Type 'help' for commands.")

			prompt.New(
				func(in string) { nodeExecutor(in, n) },
				nodeCompleter,
				prompt.OptionPrefix("viewer> "),
				prompt.OptionTitle("P2P Stream Viewer"),
			).Run()
		} else {
			select {}
		}
	},
}

// drainFrames consumes completed frames in place of a real render pipeline,
// logging progress every hundred frames.
func drainFrames(ctx context.Context, n *node.Node) {
	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-n.Frames():
			count++
			if count%100 == 1 {
				logger.Sugar.Infof("[Viewer] frame %d played back (%d bytes)", count, len(frame))
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(peerCmd)
	peerCmd.Flags().StringVarP(&peerAddr, "addr", "a", "0.0.0.0:0", "Address for this viewer to listen on")
	peerCmd.Flags().StringVarP(&peerConnect, "connect", "c", "", "Origin address to join, e.g. 192.168.1.10:9000")
	peerCmd.Flags().BoolVarP(&peerDiscover, "discover", "d", false, "Find the origin over mDNS instead of --connect")
	peerCmd.Flags().StringVarP(&peerPolicy, "policy", "p", "rarest", "Pull policy: flood, rarest or edf")
	peerCmd.Flags().StringVar(&peerDashboard, "dashboard", "", "Serve the stats dashboard on this address, e.g. 127.0.0.1:8081")
	peerCmd.Flags().BoolVarP(&peerInteractive, "interactive", "i", false, "Start in interactive mode")
}
