package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/casare-rpa/robot/pkg/agent"
	"github.com/casare-rpa/robot/pkg/config"
	"github.com/casare-rpa/robot/pkg/log"
	"github.com/casare-rpa/robot/pkg/workflow"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "robot",
	Short: "CasareRPA robot agent - headless workflow worker",
	Long: `The CasareRPA robot agent is a long-running worker process that claims
workflow jobs from the orchestrator queue and executes them durably, with
per-node checkpointing, crash recovery, and offline result caching.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"CasareRPA robot version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the robot agent in the foreground",
	Long: `Start the robot agent. The process registers with the backend, runs the
claim loop, and keeps executing jobs until it receives SIGTERM or SIGINT.
A pid file and a status snapshot are maintained under the data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		robotID, _ := cmd.Flags().GetString("robot-id")
		verbose, _ := cmd.Flags().GetBool("verbose")

		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if robotID != "" {
			cfg.RobotID = robotID
		}
		if _, err := cfg.EnsureRobotID(); err != nil {
			return err
		}

		// Re-initialize logging with the rotated operation log file
		level := log.InfoLevel
		if verbose {
			level = log.DebugLevel
		}
		logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
		logPath := filepath.Join(cfg.BaseDir(), "logs",
			fmt.Sprintf("robot_%s.log", time.Now().UTC().Format("20060102_150405")))
		log.Init(log.Config{
			Level:      level,
			JSONOutput: logJSON,
			FilePath:   logPath,
			Compress:   true,
		})

		return runAgent(cmd, cfg)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running robot agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		robotID, _ := cmd.Flags().GetString("robot-id")
		force, _ := cmd.Flags().GetBool("force")

		baseDir := defaultBaseDir()
		robotID, err := resolveRobotID(baseDir, robotID)
		if err != nil {
			return err
		}

		pid, err := agent.ReadPIDFile(baseDir, robotID)
		if err != nil {
			return err
		}
		if pid == 0 {
			fmt.Printf("Robot %s is not running (no pid file)\n", robotID)
			return nil
		}

		if err := signalProcess(pid, force); err != nil {
			if os.IsPermission(err) {
				return fmt.Errorf("no permission to signal pid %d: %w", pid, err)
			}
			// Already exited
			fmt.Printf("Robot %s (pid %d) already exited\n", robotID, pid)
			return nil
		}

		if force {
			fmt.Printf("Sent SIGKILL to robot %s (pid %d)\n", robotID, pid)
		} else {
			fmt.Printf("Sent SIGTERM to robot %s (pid %d)\n", robotID, pid)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show robot agent status",
	RunE: func(cmd *cobra.Command, args []string) error {
		robotID, _ := cmd.Flags().GetString("robot-id")
		asJSON, _ := cmd.Flags().GetBool("json")

		baseDir := defaultBaseDir()
		robotID, err := resolveRobotID(baseDir, robotID)
		if err != nil {
			return err
		}

		pid, _ := agent.ReadPIDFile(baseDir, robotID)
		alive := pid != 0 && processAlive(pid)

		status, statusErr := agent.ReadStatusFile(baseDir, robotID)

		if asJSON {
			out := map[string]any{
				"robot_id": robotID,
				"pid":      pid,
				"alive":    alive,
			}
			if statusErr == nil {
				out["status"] = status
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Robot:     %s\n", robotID)
		if !alive {
			fmt.Println("State:     not running")
			return nil
		}
		fmt.Printf("PID:       %d\n", pid)
		if statusErr != nil {
			fmt.Println("State:     running (no status snapshot)")
			return nil
		}
		fmt.Printf("State:     %s\n", status.State)
		fmt.Printf("Connected: %v\n", status.Connection.Connected)
		fmt.Printf("Circuit:   %s\n", status.Circuit.State)
		fmt.Printf("Jobs:      %d/%d running\n", len(status.CurrentJobs), status.Capacity)
		fmt.Printf("Completed: %d (%d failed)\n", status.Summary.SuccessfulJobs, status.Summary.FailedJobs)
		fmt.Printf("Uptime:    %s\n", (time.Duration(status.UptimeSecs) * time.Second).String())
		return nil
	},
}

func init() {
	startCmd.Flags().String("config", "", "Path to YAML config file")
	startCmd.Flags().String("robot-id", "", "Override the persistent robot id")
	startCmd.Flags().Bool("verbose", false, "Enable debug logging")

	stopCmd.Flags().String("robot-id", "", "Robot id (defaults to the persisted one)")
	stopCmd.Flags().Bool("force", false, "Send SIGKILL instead of SIGTERM")

	statusCmd.Flags().String("robot-id", "", "Robot id (defaults to the persisted one)")
	statusCmd.Flags().Bool("json", false, "Print raw JSON")
}

func defaultBaseDir() string {
	if dir := os.Getenv("CASARE_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".casare_rpa"
	}
	return filepath.Join(home, ".casare_rpa")
}

// resolveRobotID falls back to the persisted robot_id file
func resolveRobotID(baseDir, robotID string) (string, error) {
	if robotID != "" {
		return robotID, nil
	}
	data, err := os.ReadFile(filepath.Join(baseDir, "robot_id"))
	if err != nil {
		return "", fmt.Errorf("no robot id given and none persisted under %s", baseDir)
	}
	return strings.TrimSpace(string(data)), nil
}

// runAgent runs the agent until a termination signal arrives
func runAgent(cmd *cobra.Command, cfg config.Config) error {
	a, err := agent.New(cfg, agent.EngineFor(workflow.NewSequencer()))
	if err != nil {
		return err
	}

	if err := a.Start(cmd.Context()); err != nil {
		return err
	}

	baseDir := cfg.BaseDir()
	if err := agent.WritePIDFile(baseDir, a.RobotID()); err != nil {
		a.Stop("pid file failure")
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer agent.RemovePIDFile(baseDir, a.RobotID())

	fmt.Printf("Robot %s started (pid %d)\n", a.RobotID(), os.Getpid())

	sigCh := notifyShutdown()

	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case sig := <-sigCh:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			a.Stop(fmt.Sprintf("signal %s", sig))
			return nil
		case <-statusTicker.C:
			if err := a.WriteStatusFile(); err != nil {
				log.Logger.Warn().Err(err).Msg("Status file write failed")
			}
		}
	}
}
