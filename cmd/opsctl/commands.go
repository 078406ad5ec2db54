package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"issuance-backend/internal/models"
	"issuance-backend/internal/repository"
	"issuance-backend/internal/services"
	"issuance-backend/internal/settlement"
)

func replayCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay-check",
		Short: "Rebuild state from genesis and the operation log without starting the server",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, conn, closeFn, err := openDatabase()
			if err != nil {
				return err
			}
			defer closeFn()

			protocol, err := services.BuildProtocol(cfg, settlement.SystemClock{})
			if err != nil {
				return fmt.Errorf("genesis failed: %w", err)
			}
			svc := services.NewSettlementService(protocol, repository.NewOperationRepository(conn), nil)

			start := time.Now()
			replayed, err := svc.Replay(c.Context())
			if err != nil {
				return fmt.Errorf("replay stopped after %d operations: %w", replayed, err)
			}

			vault := protocol.VaultState()
			gw := protocol.GatewayState()
			fmt.Printf("✅ Replayed %d operations in %v\n", replayed, time.Since(start).Round(time.Millisecond))
			fmt.Printf("   sequence:        %d\n", svc.Sequence())
			fmt.Printf("   batch:           %d\n", vault.Batch)
			fmt.Printf("   vault assets:    %s\n", vault.TotalAssets)
			fmt.Printf("   vault supply:    %s\n", vault.TotalSupply)
			fmt.Printf("   pending assets:  %s\n", vault.PendingAssets)
			fmt.Printf("   gateway queue:   %d\n", gw.QueueLength)
			fmt.Printf("   gateway paused:  %v\n", gw.Paused)
			return nil
		},
	}
}

func operationsCommand() *cobra.Command {
	var (
		after uint64
		limit int
	)
	c := &cobra.Command{
		Use:   "operations",
		Short: "List logged operations in sequence order",
		RunE: func(c *cobra.Command, args []string) error {
			_, conn, closeFn, err := openDatabase()
			if err != nil {
				return err
			}
			defer closeFn()

			ops, err := repository.NewOperationRepository(conn).ListAfter(c.Context(), after, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tBATCH\tTIME\tSENDER\tKIND\tEVENTS")
			for _, op := range ops {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%d\n",
					op.Sequence, op.Batch, op.Timestamp.Format(time.RFC3339), op.Sender, op.Kind, op.EventCount)
			}
			return w.Flush()
		},
	}
	c.Flags().Uint64Var(&after, "after", 0, "only operations with a higher sequence")
	c.Flags().IntVar(&limit, "limit", 50, "maximum operations to print")
	return c
}

func queueCommand() *cobra.Command {
	var (
		status   string
		page     int
		pageSize int
	)
	c := &cobra.Command{
		Use:   "queue",
		Short: "Show the gateway redemption queue projection",
		RunE: func(c *cobra.Command, args []string) error {
			switch models.GatewayQueueStatus(status) {
			case "", models.GatewayQueueStatusQueued, models.GatewayQueueStatusProcessed, models.GatewayQueueStatusCancelled:
			default:
				return fmt.Errorf("unknown status %q", status)
			}

			_, conn, closeFn, err := openDatabase()
			if err != nil {
				return err
			}
			defer closeFn()

			entries, total, err := repository.NewProjectionRepository(conn).
				FindQueueEntries(c.Context(), models.GatewayQueueStatus(status), page, pageSize)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENTRY\tSTATUS\tSENDER\tRECEIVER\tAMOUNT\tPAID\tFEE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.EntryID, e.Status, e.Sender, e.Receiver, e.Amount, e.Underlying, e.Fee)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d of %d entries\n", len(entries), total)
			return nil
		},
	}
	c.Flags().StringVar(&status, "status", "", "queued, processed or cancelled")
	c.Flags().IntVar(&page, "page", 1, "page number")
	c.Flags().IntVar(&pageSize, "page-size", 50, "entries per page")
	return c
}
