package main

import (
	"os"

	"zhiminhu/p2p-stream/pkg/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "p2p-stream",
	Short: "P2P Live Stream Distribution",
	Long:  `A peer-to-peer live media stream distribution node. Run one origin and any number of viewers.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		os.Exit(1)
	}
}
