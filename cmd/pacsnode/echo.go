package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/pacsnode/client"
	"github.com/caio-sobreiro/pacsnode/dimse"
	"github.com/caio-sobreiro/pacsnode/types"
)

var (
	echoPeer      string
	echoPeerAE    string
	echoCallingAE string
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Verify a peer with C-ECHO",
	RunE:  runEcho,
}

func init() {
	echoCmd.Flags().StringVar(&echoPeer, "peer", "127.0.0.1:11112", "peer address")
	echoCmd.Flags().StringVar(&echoPeerAE, "peer-ae", "MYPACS", "peer AE title")
	echoCmd.Flags().StringVar(&echoCallingAE, "ae", "PACSNODE", "calling AE title")
	rootCmd.AddCommand(echoCmd)
}

func runEcho(cmd *cobra.Command, args []string) error {
	assoc, err := client.Connect(echoPeer, client.Config{
		CallingAETitle:   echoCallingAE,
		CalledAETitle:    echoPeerAE,
		Logger:           logger,
		AbstractSyntaxes: []string{types.VerificationSOPClass},
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer assoc.Close()

	resp, err := assoc.SendCEcho(1)
	if err != nil {
		return err
	}

	if resp.Status != dimse.StatusSuccess {
		return fmt.Errorf("c-echo returned status 0x%04X", resp.Status)
	}

	logger.Info("C-ECHO succeeded", "peer", echoPeer, "peer_ae", echoPeerAE)
	fmt.Println("echo ok")
	return nil
}
