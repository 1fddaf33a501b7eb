package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/pacsnode/client"
	"github.com/caio-sobreiro/pacsnode/dicom"
	"github.com/caio-sobreiro/pacsnode/dimse"
	"github.com/caio-sobreiro/pacsnode/types"
)

var (
	sendPeer      string
	sendPeerAE    string
	sendCallingAE string
)

var sendCmd = &cobra.Command{
	Use:   "send FILE...",
	Short: "Send DICOM files to a peer via C-STORE",
	Long: `Reads each DICOM Part 10 file, strips the file header and sends the
dataset over a C-STORE association.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendPeer, "peer", "127.0.0.1:11112", "peer address")
	sendCmd.Flags().StringVar(&sendPeerAE, "peer-ae", "MYPACS", "peer AE title")
	sendCmd.Flags().StringVar(&sendCallingAE, "ae", "PACSNODE", "calling AE title")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	for _, path := range args {
		if err := sendFile(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func sendFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data := raw
	if dicom.HasPart10Header(raw) {
		data, err = dicom.StripPart10Header(raw)
		if err != nil {
			return err
		}
	}

	dataset, err := dicom.ParseDataset(data)
	if err != nil {
		return fmt.Errorf("parse dataset: %w", err)
	}

	sopClassUID := dataset.GetString(dicom.Tag{Group: 0x0008, Element: 0x0016})
	sopInstanceUID := dataset.GetString(dicom.Tag{Group: 0x0008, Element: 0x0018})
	if sopClassUID == "" || sopInstanceUID == "" {
		return fmt.Errorf("missing SOPClassUID or SOPInstanceUID")
	}

	assoc, err := client.Connect(sendPeer, client.Config{
		CallingAETitle:   sendCallingAE,
		CalledAETitle:    sendPeerAE,
		Logger:           logger,
		AbstractSyntaxes: []string{types.VerificationSOPClass, sopClassUID},
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer assoc.Close()

	resp, err := assoc.SendCStore(&client.CStoreRequest{
		SOPClassUID:    sopClassUID,
		SOPInstanceUID: sopInstanceUID,
		Data:           data,
		MessageID:      1,
	})
	if err != nil {
		return err
	}

	if resp.Status != dimse.StatusSuccess {
		return fmt.Errorf("c-store refused with status 0x%04X", resp.Status)
	}

	logger.Info("File sent",
		"path", path,
		"sop_instance_uid", sopInstanceUID,
		"bytes", len(data))
	return nil
}
