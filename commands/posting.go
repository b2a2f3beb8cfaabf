package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/tenant-ledger/accounts"
	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

func newAccrueCommand(rt *runtime) *cobra.Command {
	var (
		month   string
		through bool
	)

	cmd := &cobra.Command{
		Use:   "accrue TENANT",
		Short: "Post a tenant's monthly accrual",
		Long: "Posts the accrual of TENANT for --month. With --through, posts every\n" +
			"month not yet accrued from the lease start up to --month.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := ledger.MonthOf(rt.today())
			if month != "" {
				var err error
				if m, err = ledger.ParseMonth(month); err != nil {
					return err
				}
			}
			tenant := ledger.TenantID(args[0])

			var posted []ledger.Transaction
			if through {
				txs, err := rt.service().AccrueThrough(cmd.Context(), tenant, m)
				if err != nil {
					return err
				}
				posted = txs
			} else {
				tx, err := rt.service().PostAccrual(cmd.Context(), tenant, m)
				if err != nil {
					return err
				}
				posted = []ledger.Transaction{tx}
			}
			return printTransactions(cmd.OutOrStdout(), posted)
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month YYYY-MM (default: current month)")
	cmd.Flags().BoolVar(&through, "through", false, "catch up every missing month up to --month")
	return cmd
}

func newPayCommand(rt *runtime) *cobra.Command {
	var amount, date, method, reference, paymentID string

	cmd := &cobra.Command{
		Use:   "pay TENANT",
		Short: "Allocate a tenant payment, oldest debt first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}
			day, err := dayFlag(date, rt.today())
			if err != nil {
				return err
			}
			slices, err := rt.service().AllocatePayment(cmd.Context(), billing.PaymentRequest{
				TenantID:  ledger.TenantID(args[0]),
				Amount:    amt,
				Date:      day,
				Method:    accounts.PaymentMethod(method),
				Reference: reference,
				PaymentID: paymentID,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TX\tMONTH\tTYPE\tAMOUNT")
			for _, s := range slices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.ID, s.Metadata.MonthSettled, s.Metadata.AllocationType, s.TotalDebit.StringFixed(2))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount paid (required)")
	cmd.Flags().StringVar(&date, "date", "", "payment date YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&method, "method", string(accounts.PaymentBankTransfer), "cash, bank_transfer, card or mobile_money")
	cmd.Flags().StringVar(&reference, "reference", "", "receipt or bank reference")
	cmd.Flags().StringVar(&paymentID, "payment-id", "", "idempotency ID; retries with the same ID are rejected")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newReverseCommand(rt *runtime) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reverse TX_ID",
		Short: "Reverse a posted transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := rt.service().ReverseTransaction(cmd.Context(), ledger.TransactionID(args[0]), reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reversed %s with %s (%s)\n", args[0], rev.ID, rev.TotalDebit.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the transaction is reversed (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newNoShowCommand(rt *runtime) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "no-show LEASE_ID",
		Short: "Reverse every accrual of a lease whose tenant never moved in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reversals, err := rt.service().HandleNoShow(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printTransactions(cmd.OutOrStdout(), reversals)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded on each reversal")
	return cmd
}

func printTransactions(out io.Writer, txs []ledger.Transaction) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TX\tDATE\tSOURCE\tPERIOD\tAMOUNT\tDESCRIPTION")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.ID, tx.Date.Format("2006-01-02"), tx.Source, tx.Metadata.Period,
			tx.TotalDebit.StringFixed(2), tx.Description)
	}
	return w.Flush()
}
