package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "codecolab",
	Short: "Room presence and voice signaling relay for collaborative editing",
	Long: `codecolab keeps the live roster of every editing room and relays WebRTC
negotiation messages so room members can build a peer-to-peer voice mesh.`,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to codecolabConfig.yaml")
	rootCmd.AddCommand(serveCmd, probeCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
