// Package main is the contest-admin operator CLI. It inspects and repairs
// upload state using the same stores and pipeline as the Lambda.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/photo-contest/internal/cli"
	"github.com/fpang/photo-contest/internal/lambdaboot"
	"github.com/fpang/photo-contest/internal/logging"
)

// CLI flags
var (
	escapedFlag  bool
	requiredFlag int
	forceFlag    bool
	timeoutFlag  time.Duration
)

// rootCmd is the main Cobra command for the admin CLI.
var rootCmd = &cobra.Command{
	Use:   "contest-admin",
	Short: "Inspect and repair photo contest upload state",
	Long: `contest-admin reads and repairs the per-slot and per-participant state
written by the upload processor. It reads the same environment variables as
the Lambda (MEDIA_BUCKET_NAME, SUBMISSION_TABLE_NAME, PARTICIPANT_TABLE_NAME,
DB_CLUSTER_ARN, ...).

Examples:
  contest-admin parse-key acme/P1/0/photo.jpg
  contest-admin status acme P1
  contest-admin register acme P1 --required 3
  contest-admin finalize acme P1
  contest-admin recount acme P1 2`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

var parseKeyCmd = &cobra.Command{
	Use:   "parse-key <key>",
	Short: "Decode an object key into tenant, participant, slot and filename",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return parseKey(cmd.OutOrStdout(), args[0], escapedFlag)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <tenant> <participantRef>",
	Short: "Show participant and submission state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, func(ctx context.Context, a *admin) error {
			return a.status(ctx, args[0], args[1])
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <tenant> <participantRef>",
	Short: "Record how many slots a participant must fill",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, func(ctx context.Context, a *admin) error {
			return a.register(ctx, args[0], args[1], requiredFlag)
		})
	},
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize <tenant> <participantRef>",
	Short: "Re-run the finalize protocol for a participant",
	Long: `Re-run the finalize protocol for a participant, for example one left in
errored with FINALIZE_ERROR. Finalizing is an upsert, so repeating it is safe,
but a completed participant is announced again; you are asked to confirm
unless --force is given.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, func(ctx context.Context, a *admin) error {
			confirm := func() bool {
				return cli.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("%s/%s is already completed. Finalize and announce again?", args[0], args[1]))
			}
			return a.finalize(ctx, args[0], args[1], forceFlag, confirm)
		})
	},
}

var recountCmd = &cobra.Command{
	Use:   "recount <tenant> <participantRef> <slot>",
	Short: "Count a slot whose state was written but never counted",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := strconv.Atoi(args[2])
		if err != nil || slot < 0 {
			return fmt.Errorf("invalid slot %q", args[2])
		}
		return withAdmin(cmd, func(ctx context.Context, a *admin) error {
			return a.recount(ctx, args[0], args[1], slot)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 2*time.Minute, "Overall timeout for the command")
	parseKeyCmd.Flags().BoolVar(&escapedFlag, "escaped", false, "Key is URL-encoded as in S3 event notifications")
	registerCmd.Flags().IntVar(&requiredFlag, "required", 1, "Number of slots the participant must fill")
	finalizeCmd.Flags().BoolVar(&forceFlag, "force", false, "Finalize a completed participant again without asking")

	rootCmd.AddCommand(parseKeyCmd, statusCmd, registerCmd, finalizeCmd, recountCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withAdmin wires the live services and runs fn under the command timeout.
func withAdmin(cmd *cobra.Command, fn func(ctx context.Context, a *admin) error) error {
	svc := lambdaboot.InitServices(lambdaboot.InitAWS())

	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
	defer cancel()

	return fn(ctx, &admin{
		participants: svc.Participants,
		submissions:  svc.Submissions,
		pipeline:     svc.Pipeline,
		out:          cmd.OutOrStdout(),
		now:          time.Now,
	})
}
