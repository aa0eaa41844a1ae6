package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"spclaim/internal/app"
	"spclaim/internal/claim"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "validate",
		Short:   "checks the config and prints the claim set",
		Example: "spclaim validate --config ./config.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, reqs, err := app.Check(opts.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s (scheduler tz %s)\n", opts.configPath, cfg.Scheduler.EffectiveTimezone())
			if len(reqs) == 0 {
				fmt.Fprintln(out, "no enabled claims")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSCHEDULE\tTZ\tOVERLAP\tOWNER\tKEY\tREGISTRY\tTOKEN\tPROVIDER")
			for _, r := range reqs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Name, r.Schedule, r.Timezone, r.Overlap, r.Owner, r.Credential,
					r.Network.RegistryAddress, r.Network.TokenAddress, claim.EndpointHost(r.Network.ProviderEndpoint))
			}
			return tw.Flush()
		},
	}
}
