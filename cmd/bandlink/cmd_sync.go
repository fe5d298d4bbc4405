package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bandlink/internal/events"
	"bandlink/internal/protocol"
	"bandlink/internal/sensorsync"
)

var (
	cmdSync = &cobra.Command{
		Use:   "sync",
		Short: "Download buffered sensor data",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
)

var syncOut string
var syncFormat string

func init() {
	rootCmd.AddCommand(cmdSync)
	cmdSync.Flags().StringVarP(&syncOut, "out", "o", "", "Write the payload to this file")
	cmdSync.Flags().StringVar(&syncFormat, "format", "", "Header format (packet_count, byte_count)")
}

func runSync(cmd *cobra.Command, _ []string) error {
	if syncFormat != "" {
		cfg.Sync.Format = syncFormat
	}

	if err := cfg.validateTransport(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		res, id, err := a.download(ctx)
		if err != nil {
			return err
		}
		if syncOut != "" {
			if err := os.WriteFile(syncOut, res.Data, 0644); err != nil {
				return fmt.Errorf("write payload: %w", err)
			}
		}

		integrity := "not checked"
		if res.IntegrityChecked {
			integrity = "verified"
			if !res.IntegrityVerified {
				integrity = "MISMATCH"
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "transfer %s: %d bytes in %d packets, integrity %s (%s)\n",
			id, len(res.Data), res.Packets, integrity, res.Elapsed.Round(time.Millisecond))
		return nil
	})
}

// download runs one sensor sync, stores the payload and returns the result
// and its transfer ID.
func (a *app) download(ctx context.Context) (*sensorsync.Result, string, error) {
	format, err := sensorsync.ParseHeaderFormat(a.cfg.Sync.Format)
	if err != nil {
		return nil, "", err
	}
	command, err := a.cfg.syncCommand()
	if err != nil {
		return nil, "", err
	}

	link, err := a.dial(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("connect: %w", err)
	}
	defer link.Close()

	control, err := link.Resolve(ctx, protocol.SyncServiceUUID, protocol.SyncControlUUID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve sync control: %w", err)
	}
	data, err := link.Resolve(ctx, protocol.SyncServiceUUID, protocol.SyncDataUUID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve sync data: %w", err)
	}

	tr := newTracker(a.bus, events.KindSync, a.deviceName(), 0)
	a.annotate(tr.id, format.String(), "")

	var last sensorsync.Progress
	s, err := sensorsync.NewSession(link, control, data,
		sensorsync.WithHeaderFormat(format),
		sensorsync.WithCommand(command, a.cfg.Sync.ConfirmCommand),
		sensorsync.WithReadTimeout(duration(a.cfg.Sync.ReadTimeout)),
		sensorsync.WithCapacity(a.cfg.Sync.Capacity),
		sensorsync.WithLogger(a.logger),
		sensorsync.WithProgress(func(p sensorsync.Progress) {
			last = p
			tr.update(p.State.String(), p.Bytes, 0, p.Packets, 0, p.Elapsed)
		}),
	)
	if err != nil {
		tr.finish(sensorsync.StateFailed.String(), 0, 0, 0, err)
		return nil, tr.id, err
	}

	res, err := s.Run(ctx)
	if err != nil {
		tr.finish(sensorsync.StateFailed.String(), last.Bytes, last.Packets, last.Elapsed, err)
		return nil, tr.id, err
	}

	if err := a.store.SaveDownload(tr.id, res.Data); err != nil {
		a.logger.Error("save download", "id", tr.id, "err", err)
	}
	if res.IntegrityChecked {
		tr.integrity(res.IntegrityVerified, res.Digest)
	}
	tr.finish(sensorsync.StateComplete.String(), len(res.Data), res.Packets, res.Elapsed, nil)
	return res, tr.id, nil
}
