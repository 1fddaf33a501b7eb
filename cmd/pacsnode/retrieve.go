package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/pacsnode/client"
	"github.com/caio-sobreiro/pacsnode/dicom"
	"github.com/caio-sobreiro/pacsnode/dimse"
	"github.com/caio-sobreiro/pacsnode/landing"
	"github.com/caio-sobreiro/pacsnode/server"
	"github.com/caio-sobreiro/pacsnode/services"
	"github.com/caio-sobreiro/pacsnode/types"
)

var (
	retrievePatientID string
	retrievePeer      string
	retrievePeerAE    string
	retrieveLocalAE   string
	retrieveListen    string
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Retrieve a patient's instances from a remote PACS",
	Long: `Verifies the patient exists via C-FIND, requests a C-MOVE to this
node's AE title, receives the instances into the landing area and waits
until the delivery is complete.

The local AE title must be registered as a move destination on the remote
PACS, pointing at this node's listen address.`,
	RunE: runRetrieve,
}

func init() {
	retrieveCmd.Flags().StringVar(&retrievePatientID, "patient-id", "", "PatientID to retrieve (required)")
	retrieveCmd.Flags().StringVar(&retrievePeer, "peer", "127.0.0.1:11112", "remote PACS address")
	retrieveCmd.Flags().StringVar(&retrievePeerAE, "peer-ae", "MYPACS", "remote PACS AE title")
	retrieveCmd.Flags().StringVar(&retrieveLocalAE, "ae", "TESTSCU", "local AE title (move destination)")
	retrieveCmd.Flags().StringVar(&retrieveListen, "listen", ":11113", "local store SCP address")
	_ = retrieveCmd.MarkFlagRequired("patient-id")
	rootCmd.AddCommand(retrieveCmd)
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	area := landing.NewArea(cfg.Landing.Root)

	// Receiving SCP for the incoming C-STOREs.
	scpRegistry := services.NewRegistry()
	scpRegistry.RegisterHandler(dimse.CEchoRQ, services.NewEchoService())
	scpRegistry.RegisterHandler(dimse.CStoreRQ, landing.NewStoreHandler(area, logger))

	// Bind the listener before asking for the move, so the destination is
	// accepting connections by the time the first C-STORE arrives.
	ln, err := net.Listen("tcp", retrieveListen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", retrieveListen, err)
	}

	scpCtx, stopSCP := context.WithCancel(ctx)
	defer stopSCP()

	scp := server.New(retrieveLocalAE, scpRegistry, server.WithLogger(logger))
	scpDone := make(chan error, 1)
	go func() {
		scpDone <- scp.Serve(scpCtx, ln)
	}()

	if err := verifyPatient(ctx); err != nil {
		return err
	}

	if err := requestMove(ctx); err != nil {
		return err
	}

	files, err := landing.WaitForStable(ctx, area.DirFor(retrievePatientID), &landing.Options{
		Timeout:             cfg.Landing.Timeout,
		PollInterval:        cfg.Landing.PollInterval,
		RequiredStablePolls: cfg.Landing.RequiredStablePolls,
	}, logger)
	if err != nil {
		logger.Warn("Delivery incomplete", "files", len(files), "error", err)
	}

	for _, f := range files {
		fmt.Println(f)
	}
	logger.Info("Retrieve finished", "patient_id", retrievePatientID, "files", len(files))

	stopSCP()
	<-scpDone
	return nil
}

// verifyPatient runs a PATIENT level C-FIND for the requested PatientID and
// fails when the remote reports no match.
func verifyPatient(ctx context.Context) error {
	assoc, err := client.Connect(retrievePeer, client.Config{
		CallingAETitle: retrieveLocalAE,
		CalledAETitle:  retrievePeerAE,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", retrievePeer, err)
	}
	defer assoc.Close()

	identifier := dicom.NewDataset()
	identifier.AddElement(dicom.Tag{Group: 0x0008, Element: 0x0052}, dicom.VR_CS, "PATIENT")
	identifier.AddElement(dicom.Tag{Group: 0x0010, Element: 0x0020}, dicom.VR_LO, retrievePatientID)
	identifier.AddElement(dicom.Tag{Group: 0x0010, Element: 0x0010}, dicom.VR_PN, "")

	responses, err := assoc.SendCFind(&client.CFindRequest{
		SOPClassUID: types.PatientRootQueryRetrieveInformationModelFind,
		Dataset:     identifier,
	})
	if err != nil {
		return fmt.Errorf("c-find: %w", err)
	}

	matches := 0
	for _, resp := range responses {
		if resp.Status == dimse.StatusPending {
			matches++
		}
	}
	if matches == 0 {
		return fmt.Errorf("patient %s not found on %s", retrievePatientID, retrievePeerAE)
	}

	logger.Info("Patient verified", "patient_id", retrievePatientID, "matches", matches)
	return nil
}

// requestMove asks the remote PACS to move the patient's instances to our
// AE title.
func requestMove(ctx context.Context) error {
	assoc, err := client.Connect(retrievePeer, client.Config{
		CallingAETitle: retrieveLocalAE,
		CalledAETitle:  retrievePeerAE,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", retrievePeer, err)
	}
	defer assoc.Close()

	identifier := dicom.NewDataset()
	identifier.AddElement(dicom.Tag{Group: 0x0008, Element: 0x0052}, dicom.VR_CS, "PATIENT")
	identifier.AddElement(dicom.Tag{Group: 0x0010, Element: 0x0020}, dicom.VR_LO, retrievePatientID)

	responses, err := assoc.SendCMove(&client.CMoveRequest{
		SOPClassUID:     types.PatientRootQueryRetrieveInformationModelMove,
		MoveDestination: retrieveLocalAE,
		Dataset:         identifier,
	})
	if err != nil {
		return fmt.Errorf("c-move: %w", err)
	}

	final := responses[len(responses)-1]
	logger.Info("C-MOVE finished",
		"status", fmt.Sprintf("0x%04X", final.Status),
		"completed", final.Completed,
		"failed", final.Failed)

	if final.Status != dimse.StatusSuccess {
		return fmt.Errorf("c-move ended with status 0x%04X", final.Status)
	}
	return nil
}
