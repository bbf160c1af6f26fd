package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/device"
	"github.com/edgewatch/edgewatch/pkg/response"
	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

func newRespondCmd() *cobra.Command {
	var offenceID int64

	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Run the response pipeline for an offence",
		Long: `Run the response pipeline bound to an offence's correlation rule, the
same way the correlation engine would after raising it. Steps are logged
to the audit trail with the manual flag set.

  edgewatch respond --offence 42
  edgewatch audit list --offence 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if offenceID <= 0 {
				return fmt.Errorf("--offence is required")
			}
			return withStore(func(ctx context.Context, st *store.Store) error {
				off, err := st.Offences.Get(ctx, offenceID)
				if err != nil {
					return err
				}

				orch := response.NewOrchestrator(st.Pipelines, st.Actions, nil)
				if sealer, err := newSealer(); err != nil {
					util.Warnf("Device response actions disabled: %v", err)
				} else {
					orch.SetDeviceActor(device.NewService(st.Devices, sealer))
				}

				if err := orch.ExecuteManual(ctx, off); err != nil {
					return err
				}
				fmt.Printf("Response pipeline executed for offence %d (%s)\n", off.ID, off.Title)
				fmt.Println("Step outcomes: edgewatch audit list --offence", off.ID)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&offenceID, "offence", 0, "offence id (required)")
	return cmd
}
