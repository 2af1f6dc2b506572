package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hyperregistry/internal/api"
	"hyperregistry/internal/app"
)

var (
	propagateMode    string
	propagateUpdate  string
	propagateQuorum  int
	propagateTimeout time.Duration
)

// propagateCmd fans an update out from an entry to its targets.
var propagateCmd = &cobra.Command{
	Use:   "propagate <entry-id>",
	Short: "Propagate an update from an entry to its targets",
	Long: `Propagates a JSON update from the entry to its propagation targets.
Modes: immediate (synchronous), eventual (queued), cascade (follows
target chains, applying each hop's rules), consensus (requires --quorum
acknowledgments or rolls back).`,
	Args: cobra.ExactArgs(1),
	RunE: runPropagate,
}

func init() {
	propagateCmd.Flags().StringVar(&propagateMode, "mode", "immediate", "Propagation mode")
	propagateCmd.Flags().StringVar(&propagateUpdate, "update", "{}", "Update payload as JSON")
	propagateCmd.Flags().IntVar(&propagateQuorum, "quorum", 0, "Required acknowledgments (consensus mode)")
	propagateCmd.Flags().DurationVar(&propagateTimeout, "timeout", 0, "Acknowledgment deadline (consensus mode)")
	rootCmd.AddCommand(propagateCmd)
}

func runPropagate(cmd *cobra.Command, args []string) error {
	var update map[string]interface{}
	if err := json.Unmarshal([]byte(propagateUpdate), &update); err != nil {
		return api.NewValidationError("propagate", []string{"malformed --update JSON: " + err.Error()})
	}

	return withApplication(func(ctx context.Context, a *app.Application) error {
		sessionID, err := api.GetPropagation().Propagate(ctx, api.PropagateRequest{
			EntryID: args[0],
			Update:  update,
			Mode:    api.PropagationMode(propagateMode),
			Quorum:  propagateQuorum,
			Timeout: propagateTimeout,
		})
		if err != nil {
			return err
		}

		session, err := api.GetPropagation().GetSession(sessionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s: %s (%d hops)\n",
			session.SessionID, session.Status, len(session.Path))
		return nil
	})
}
