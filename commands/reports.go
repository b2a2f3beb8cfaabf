package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/tenant-ledger/api"
	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

func newObligationsCommand(rt *runtime) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "obligations TENANT",
		Short: "Show what a tenant owes, month by month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := dayFlag(asOf, rt.today())
			if err != nil {
				return err
			}
			obligations, err := rt.service().GetObligations(cmd.Context(), ledger.TenantID(args[0]), day)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "MONTH\tDUE\tOWED\tPAID\tCARRIED\tOUTSTANDING\tDAYS LATE\t")
			for _, o := range obligations {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t\n",
					o.Month, o.DueDate.Format("2006-01-02"),
					o.Owed.StringFixed(2), o.Paid.StringFixed(2), o.Carried.StringFixed(2),
					o.Outstanding.StringFixed(2), o.DaysOverdue)
			}
			fmt.Fprintf(w, "TOTAL\t\t\t\t\t%s\t\t\n", billing.TotalOutstanding(obligations).StringFixed(2))
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "as-of date YYYY-MM-DD (default: today)")
	return cmd
}

func newAgingCommand(rt *runtime) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "aging TENANT",
		Short: "Show a tenant's outstanding balance by days overdue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := dayFlag(asOf, rt.today())
			if err != nil {
				return err
			}
			a, err := rt.service().GetAging(cmd.Context(), ledger.TenantID(args[0]), day)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "CURRENT\t1-30\t31-60\t61-90\t90+\tTOTAL\t")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
				a.Current.StringFixed(2), a.Days1To30.StringFixed(2), a.Days31To60.StringFixed(2),
				a.Days61To90.StringFixed(2), a.Over90.StringFixed(2), a.Total.StringFixed(2))
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "as-of date YYYY-MM-DD (default: today)")
	return cmd
}

func newTrialBalanceCommand(rt *runtime) *cobra.Command {
	var asOf, basis string

	cmd := &cobra.Command{
		Use:   "trial-balance",
		Short: "Print the trial balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := dayFlag(asOf, rt.today())
			if err != nil {
				return err
			}
			b, err := billing.ParseBasis(basis)
			if err != nil {
				return err
			}
			tb, err := rt.service().GetTrialBalance(cmd.Context(), day, b)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tACCOUNT\tDEBIT\tCREDIT")
			for _, a := range tb.Accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Code, a.Name, a.DebitBalance.StringFixed(2), a.CreditBalance.StringFixed(2))
			}
			fmt.Fprintf(w, "\tTOTAL\t%s\t%s\n", tb.TotalDebit.StringFixed(2), tb.TotalCredit.StringFixed(2))
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s basis, as of %s)\n", tb.Status, tb.Basis, day.Format("2006-01-02"))
			if !tb.IsBalanced() {
				return fmt.Errorf("trial balance is off by %s", tb.Difference.StringFixed(2))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "as-of date YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&basis, "basis", string(billing.BasisAccrual), "accrual or cash")
	return cmd
}

func newScenarioCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Load demo data sets",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List demo scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDESCRIPTION")
			for _, s := range api.Scenarios() {
				fmt.Fprintf(w, "%s\t%s\n", s.ID, s.Description)
			}
			return w.Flush()
		},
	}, &cobra.Command{
		Use:   "load SCENARIO_ID",
		Short: "Post a demo scenario into the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.LoadScenario(cmd.Context(), rt.service(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded scenario %s\n", args[0])
			return nil
		},
	})
	return cmd
}
