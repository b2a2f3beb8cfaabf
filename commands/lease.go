package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

func newLeaseCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Register and list leases",
	}
	cmd.AddCommand(newLeaseAddCommand(rt), newLeaseListCommand(rt))
	return cmd
}

func newLeaseAddCommand(rt *runtime) *cobra.Command {
	var (
		id, tenant, residence   string
		rate, adminFee, deposit string
		start, end              string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a lease and open the tenant's receivable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lease := billing.Lease{ID: id, TenantID: ledger.TenantID(tenant), ResidenceID: residence}
			var err error
			if lease.RoomRate, err = decimal.NewFromString(rate); err != nil {
				return fmt.Errorf("invalid --rate: %w", err)
			}
			if lease.AdminFee, err = decimal.NewFromString(adminFee); err != nil {
				return fmt.Errorf("invalid --admin-fee: %w", err)
			}
			if lease.DepositAmount, err = decimal.NewFromString(deposit); err != nil {
				return fmt.Errorf("invalid --deposit: %w", err)
			}
			if lease.LeaseStart, err = parseDay(start); err != nil {
				return err
			}
			if lease.LeaseEnd, err = parseDay(end); err != nil {
				return err
			}

			lease, err = rt.service().RegisterLease(cmd.Context(), lease)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered lease %s for tenant %s (%s)\n", lease.ID, lease.TenantID, lease.Period())
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "lease ID (required)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID (required)")
	cmd.Flags().StringVar(&residence, "residence", "", "residence ID")
	cmd.Flags().StringVar(&rate, "rate", "", "monthly room rate (required)")
	cmd.Flags().StringVar(&adminFee, "admin-fee", "0", "one-off admin fee, charged in the first month")
	cmd.Flags().StringVar(&deposit, "deposit", "0", "deposit, charged in the first month")
	cmd.Flags().StringVar(&start, "start", "", "lease start YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&end, "end", "", "lease end YYYY-MM-DD (required)")
	for _, f := range []string{"id", "tenant", "rate", "start", "end"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newLeaseListCommand(rt *runtime) *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leases, optionally only those active in a month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				leases []billing.Lease
				err    error
			)
			if month != "" {
				m, perr := ledger.ParseMonth(month)
				if perr != nil {
					return perr
				}
				leases, err = rt.service().ActiveLeases(cmd.Context(), m)
			} else {
				leases, err = rt.service().Leases.ListLeases(cmd.Context())
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTENANT\tRESIDENCE\tRATE\tSTART\tEND")
			for _, l := range leases {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					l.ID, l.TenantID, l.ResidenceID, l.RoomRate.StringFixed(2),
					l.LeaseStart.Format("2006-01-02"), l.LeaseEnd.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "only leases active in YYYY-MM")
	return cmd
}
