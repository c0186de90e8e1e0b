package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/geo"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/optimizer"
	"github.com/cuemby/helmsman/pkg/orchestrator"
	"github.com/cuemby/helmsman/pkg/recovery"
	"github.com/cuemby/helmsman/pkg/types"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// exitCompletedWithIssues is spec §6's reserved exit code for a
// long-running call that finished but the result carries a caveat
// (e.g. an invalid best-effort placement).
const exitCompletedWithIssues = 2

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "helmsmanctl",
	Short: "helmsmanctl - operator CLI for the Helmsman placement and deployment engine",
	Long: `helmsmanctl is a thin CLI wrapper over the Helmsman orchestrator's
logical operator surface: optimize, deploy, rollback, recover, status
and cancel. It is a transport binding only — every decision is made by
pkg/orchestrator.Context.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"helmsmanctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML options file (overlays documented defaults)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// loadContext builds an orchestrator.Context from --config plus the
// REDIS_* environment variables (spec §6), and starts its background
// loops.
func loadContext(cmd *cobra.Command) (*orchestrator.Context, error) {
	configPath, _ := cmd.Flags().GetString("config")
	opts, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	ctx := orchestrator.New(opts)
	ctx.Start(context.Background())
	return ctx, nil
}

// readPayload reads JSON from --file, or from stdin when --file is "-"
// or unset.
func readPayload(cmd *cobra.Command, v any) error {
	path, _ := cmd.Flags().GetString("file")
	var r io.Reader
	if path == "" || path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening input file: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding JSON input: %w", err)
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// optimizeRequest is the JSON shape for `helmsmanctl optimize`, mirroring
// spec §6's `optimize(nodes, tasks, constraints, options) -> Placement`.
type optimizeRequest struct {
	Nodes       []types.Node          `json:"nodes"`
	Tasks       []types.Task          `json:"tasks"`
	Constraints optimizer.Constraints `json:"constraints"`
	GeoStrategy geo.Strategy          `json:"geoStrategy,omitempty"`
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run the placement optimizer over a set of nodes and tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		var req optimizeRequest
		if err := readPayload(cmd, &req); err != nil {
			return err
		}

		octx, err := loadContext(cmd)
		if err != nil {
			return err
		}
		defer octx.Stop()

		report := octx.Optimize(context.Background(), req.Nodes, req.Tasks, req.Constraints, req.GeoStrategy)
		printJSON(report)
		if !report.Placement.Valid {
			os.Exit(exitCompletedWithIssues)
		}
		return nil
	},
}

func init() {
	optimizeCmd.Flags().String("file", "-", "Path to a JSON optimize request (default: stdin)")
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Start a deployment and print its DeploymentId immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg types.ApplicationConfig
		if err := readPayload(cmd, &cfg); err != nil {
			return err
		}

		octx, err := loadContext(cmd)
		if err != nil {
			return err
		}
		// deploy() is asynchronous by contract (spec §6): the phase
		// sequence keeps running in octx's background goroutine after
		// this process would otherwise exit, so Stop is deliberately
		// not deferred here.

		id := octx.Deploy(context.Background(), cfg)
		printJSON(map[string]string{"deploymentId": id})
		return nil
	},
}

func init() {
	deployCmd.Flags().String("file", "-", "Path to a JSON ApplicationConfig (default: stdin)")
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <deploymentId>",
	Short: "Trigger a rollback of an in-flight or completed deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshotID, _ := cmd.Flags().GetString("snapshot")

		octx, err := loadContext(cmd)
		if err != nil {
			return err
		}
		defer octx.Stop()

		rollbackID, err := octx.TriggerRollback(context.Background(), args[0], snapshotID)
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		printJSON(map[string]string{"rollbackId": rollbackID})
		return nil
	},
}

func init() {
	rollbackCmd.Flags().String("snapshot", "", "Optional snapshot id override")
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Initiate automated recovery for an observed error",
	RunE: func(cmd *cobra.Command, args []string) error {
		var data recovery.ErrorData
		if err := readPayload(cmd, &data); err != nil {
			return err
		}

		octx, err := loadContext(cmd)
		if err != nil {
			return err
		}
		defer octx.Stop()

		recoveryID, err := octx.InitiateRecovery(context.Background(), data)
		if err != nil {
			return fmt.Errorf("initiateRecovery: %w", err)
		}
		printJSON(map[string]string{"recoveryId": recoveryID})
		return nil
	},
}

func init() {
	recoverCmd.Flags().String("file", "-", "Path to a JSON ErrorData payload (default: stdin)")
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Look up a deployment, rollback, or recovery execution by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		octx, err := loadContext(cmd)
		if err != nil {
			return err
		}
		defer octx.Stop()

		exec, ok := octx.Status(args[0])
		if !ok {
			return fmt.Errorf("status: no execution found for id %q", args[0])
		}
		printJSON(exec)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a cancelable long-running operation (recovery executions only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		octx, err := loadContext(cmd)
		if err != nil {
			return err
		}
		defer octx.Stop()

		if err := octx.Cancel(args[0]); err != nil {
			return err
		}
		fmt.Printf("canceled %s\n", args[0])
		return nil
	},
}
