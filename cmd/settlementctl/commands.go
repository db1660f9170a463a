package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/services/settlement"
	"github.com/kevin07696/harvest-settlement/pkg/timeutil"
)

// Operator is the settlement service surface the CLI drives. There is no reconcile
// command: outcomes only come from the settlement network.
type Operator interface {
	GetBatch(ctx context.Context, batchID string) (*settlement.BatchDetails, error)
	StaleBatches(ctx context.Context, limit int) ([]*settlement.StaleBatch, error)
	RetrySubmission(ctx context.Context, batchID string) (*domain.SettlementBatch, error)
	CancelBatch(ctx context.Context, batchID string) (*domain.SettlementBatch, error)
	MarkPaid(ctx context.Context, req settlement.MarkPaidRequest) (*domain.SettlementBatch, error)
}

// connectFunc opens the operator on first use so --help works without a database
type connectFunc func(ctx context.Context) (Operator, error)

func newRootCmd(connect connectFunc) *cobra.Command {
	var asJSON bool

	rootCmd := &cobra.Command{
		Use:           "settlementctl",
		Short:         "Operate harvest settlement batches",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	out := func(cmd *cobra.Command) printer {
		return printer{w: cmd.OutOrStdout(), json: asJSON}
	}

	rootCmd.AddCommand(showCmd(connect, out))
	rootCmd.AddCommand(staleCmd(connect, out))
	rootCmd.AddCommand(retryCmd(connect, out))
	rootCmd.AddCommand(cancelCmd(connect, out))
	rootCmd.AddCommand(markPaidCmd(connect, out))

	return rootCmd
}

func showCmd(connect connectFunc, out func(*cobra.Command) printer) *cobra.Command {
	return &cobra.Command{
		Use:   "show [batch-id]",
		Short: "Show a batch with its members, lease and conflicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			details, err := op.GetBatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return out(cmd).details(details)
		},
	}
}

func staleCmd(connect connectFunc, out func(*cobra.Command) printer) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List CREATED batches whose submission lease expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			stale, err := op.StaleBatches(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return out(cmd).stale(stale)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum batches to list")

	return cmd
}

func retryCmd(connect connectFunc, out func(*cobra.Command) printer) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [batch-id]",
		Short: "Resubmit a stale gateway batch with its original request id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			batch, err := op.RetrySubmission(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return out(cmd).batch(batch)
		},
	}
}

func cancelCmd(connect connectFunc, out func(*cobra.Command) printer) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [batch-id]",
		Short: "Cancel a batch that never reached the network and free its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			batch, err := op.CancelBatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return out(cmd).batch(batch)
		},
	}
}

func markPaidCmd(connect connectFunc, out func(*cobra.Command) printer) *cobra.Command {
	var (
		date   string
		method string
		notes  string
	)

	cmd := &cobra.Command{
		Use:   "mark-paid [batch-id]",
		Short: "Confirm a manual payment (cash, check, bank slip, wire)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paymentDate, err := timeutil.ParseDate(date)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}

			req := settlement.MarkPaidRequest{
				BatchID:     args[0],
				PaymentDate: paymentDate,
				Method:      domain.PaymentMethod(method),
			}
			if notes != "" {
				req.Notes = &notes
			}

			op, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			batch, err := op.MarkPaid(cmd.Context(), req)
			if err != nil {
				return err
			}
			return out(cmd).batch(batch)
		},
	}
	cmd.Flags().StringVar(&date, "date", timeutil.FormatDate(timeutil.Now()), "payment date")
	cmd.Flags().StringVar(&method, "method", "", "payment method actually used")
	cmd.Flags().StringVar(&notes, "notes", "", "operator notes")
	_ = cmd.MarkFlagRequired("method")

	return cmd
}

type printer struct {
	w    io.Writer
	json bool
}

func (p printer) encode(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p printer) batch(b *domain.SettlementBatch) error {
	if p.json {
		return p.encode(b)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", b.ID)
	fmt.Fprintf(tw, "Payee:\t%s\n", b.PayeeID)
	fmt.Fprintf(tw, "Method:\t%s\n", b.PaymentMethod)
	fmt.Fprintf(tw, "Status:\t%s\n", b.Status)
	fmt.Fprintf(tw, "Total:\t%s\n", b.TotalAmount.StringFixed(2))
	fmt.Fprintf(tw, "Payment date:\t%s\n", timeutil.FormatDate(b.PaymentDate))
	fmt.Fprintf(tw, "Members:\t%d\n", len(b.MemberRecordIDs))
	if ref := b.GetExternalReference(); ref != "" {
		fmt.Fprintf(tw, "Network ref:\t%s\n", ref)
	}
	for _, lr := range b.LineRejections {
		fmt.Fprintf(tw, "Rejected line:\t%s (%s)\n", lr.RecordID, lr.ErrorCode)
	}
	return tw.Flush()
}

func (p printer) details(d *settlement.BatchDetails) error {
	if p.json {
		return p.encode(d)
	}
	if err := p.batch(d.Batch); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	if d.Lease != nil {
		fmt.Fprintf(tw, "Lease expires:\t%s\n", d.Lease.LeaseExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintln(tw, "\nRECORD\tSTATE\tVALUE")
	for _, r := range d.Members {
		value := "-"
		if r.TotalValue != nil {
			value = r.TotalValue.StringFixed(2)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.PaymentState, value)
	}
	for _, c := range d.Conflicts {
		fmt.Fprintf(tw, "CONFLICT\t%s stored, %s reported\t%s\n", c.StoredStatus, c.ReportedOutcome, c.DetectedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func (p printer) stale(stale []*settlement.StaleBatch) error {
	if p.json {
		return p.encode(stale)
	}
	if len(stale) == 0 {
		_, err := fmt.Fprintln(p.w, "No stale batches")
		return err
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tPAYEE\tMETHOD\tTOTAL\tLEASE EXPIRED")
	for _, s := range stale {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Batch.ID, s.Batch.PayeeID, s.Batch.PaymentMethod,
			s.Batch.TotalAmount.StringFixed(2), s.Lease.LeaseExpiresAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
