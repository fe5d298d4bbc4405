package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"bandlink/internal/dfu"
	"bandlink/internal/events"
	"bandlink/internal/protocol"
	"bandlink/internal/store"
)

var (
	cmdDFU = &cobra.Command{
		Use:   "dfu <firmware.bin>",
		Short: "Upload a firmware image and activate it",
		Args:  cobra.ExactArgs(1),
		RunE:  runDFU,
	}
)

var dfuProfile string
var dfuPRN uint16
var dfuSettle string
var dfuFinalResponse bool

func init() {
	rootCmd.AddCommand(cmdDFU)
	cmdDFU.Flags().StringVar(&dfuProfile, "profile", "", "Bootloader profile (crc16, sha1)")
	cmdDFU.Flags().Uint16Var(&dfuPRN, "prn", 0, "Packet receipt notification interval, 0 disables")
	cmdDFU.Flags().StringVar(&dfuSettle, "settle", "", "Delay between validate and activate")
	cmdDFU.Flags().BoolVar(&dfuFinalResponse, "final-response", false, "Read the end-of-image response even with receipts on")
}

func runDFU(cmd *cobra.Command, args []string) error {
	if dfuProfile != "" {
		cfg.DFU.Profile = dfuProfile
	}
	if cmd.Flags().Changed("prn") {
		cfg.DFU.PRN = dfuPRN
	}
	if dfuSettle != "" {
		cfg.DFU.SettleDelay = dfuSettle
	}
	if cmd.Flags().Changed("final-response") {
		cfg.DFU.FinalResponse = dfuFinalResponse
	}

	if err := cfg.validateTransport(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		res, id, err := a.upload(ctx, args[0])
		if res != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "transfer %s: %s, %d bytes in %d packets (%s, %s)\n",
				id, res.State, res.BytesSent, res.Packets, res.Profile, res.Elapsed.Round(time.Millisecond))
		}
		return err
	})
}

// upload flashes the image at path and returns the session result and the
// transfer ID it was recorded under.
func (a *app) upload(ctx context.Context, path string) (*dfu.Result, string, error) {
	img, err := dfu.LoadImage(path)
	if err != nil {
		return nil, "", err
	}
	profile, err := dfu.ParseProfile(a.cfg.DFU.Profile)
	if err != nil {
		return nil, "", err
	}
	profile.AwaitTransferResponseWithReceipts = a.cfg.DFU.FinalResponse

	link, err := a.dial(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("connect: %w", err)
	}
	defer link.Close()

	control, err := link.Resolve(ctx, protocol.DFUServiceUUID, protocol.DFUControlPointUUID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve control point: %w", err)
	}
	packet, err := link.Resolve(ctx, protocol.DFUServiceUUID, protocol.DFUPacketUUID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve packet: %w", err)
	}

	tr := newTracker(a.bus, events.KindDFU, a.deviceName(), int(img.Size()))
	a.annotate(tr.id, profile.Name, filepath.Base(path))

	s, err := dfu.NewSession(link, control, packet, img,
		dfu.WithProfile(profile),
		dfu.WithLogger(a.logger),
		dfu.WithPacketNotificationInterval(a.cfg.DFU.PRN),
		dfu.WithResponseTimeout(duration(a.cfg.DFU.ResponseTimeout)),
		dfu.WithSettleDelay(duration(a.cfg.DFU.SettleDelay)),
		dfu.WithProgress(func(p dfu.Progress) {
			tr.update(p.State.String(), int(p.BytesSent), int(p.TotalBytes), p.Packets, p.Percentage, p.Elapsed)
		}),
	)
	if err != nil {
		tr.finish(dfu.StateFailed.String(), 0, 0, 0, err)
		return nil, tr.id, err
	}

	res, err := s.Run(ctx)
	if res != nil {
		tr.finish(res.State.String(), int(res.BytesSent), res.Packets, res.Elapsed, err)
	}
	return res, tr.id, err
}

// annotate stores the fields the lifecycle events do not carry.
func (a *app) annotate(id, variant, image string) {
	err := a.store.UpdateTransfer(id, func(t *store.Transfer) error {
		t.Variant = variant
		t.Image = image
		return nil
	})
	if err != nil {
		a.logger.Warn("annotate transfer", "id", id, "err", err)
	}
}
