// Command reflow runs a workflow file to completion, freezing and
// persisting an in-progress run if it is interrupted, and resuming a
// previously frozen run from where it left off.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tripflow/reflow/internal/execution"
	"github.com/tripflow/reflow/internal/graph"
	"github.com/tripflow/reflow/internal/localscheduler"
	"github.com/tripflow/reflow/internal/reflowconfig"
	"github.com/tripflow/reflow/internal/reflowlog"
	"github.com/tripflow/reflow/internal/store"
	"github.com/tripflow/reflow/internal/store/postgres"
	"github.com/tripflow/reflow/internal/target"
	"github.com/tripflow/reflow/internal/workflowfile"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "resume":
		err = resumeCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: reflow run --workflow FILE [--run-id ID] [--skip-fresh] [--target KEYS]")
	fmt.Fprintln(os.Stderr, "       reflow resume --run-id ID --workflow FILE")
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	workflowPath := fs.String("workflow", "", "path to a workflow JSON file")
	runID := fs.String("run-id", "default", "identifier this run is saved under")
	skipFresh := fs.Bool("skip-fresh", false, "skip nodes whose outputs are already up to date")
	targetKeys := fs.String("target", "", "comma-separated node keys to restrict the run to (default: whole graph)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workflowPath == "" {
		return fmt.Errorf("reflow: --workflow is required")
	}

	log := reflowlog.New("reflow")

	cfg, err := reflowconfig.LoadDefault()
	if err != nil {
		return fmt.Errorf("reflow: loading config: %w", err)
	}

	def, err := workflowfile.Load(*workflowPath)
	if err != nil {
		return err
	}
	g, err := workflowfile.Build(def)
	if err != nil {
		return err
	}

	t, err := resolveTarget(g, *targetKeys)
	if err != nil {
		return err
	}

	sched := newScheduler(cfg)
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var exec *execution.Execution
	if *skipFresh {
		exec, err = execution.NewSkipFresh(t, sched)
	} else {
		exec, err = execution.New(t, sched)
	}
	if err != nil {
		return fmt.Errorf("reflow: constructing execution: %w", err)
	}

	return runAndFreeze(log, st, *runID, exec, sched)
}

func resumeCmd(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	workflowPath := fs.String("workflow", "", "path to the workflow JSON file the frozen run was built from")
	runID := fs.String("run-id", "", "identifier the frozen run was saved under")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workflowPath == "" || *runID == "" {
		return fmt.Errorf("reflow: --workflow and --run-id are required")
	}

	log := reflowlog.New("reflow")

	cfg, err := reflowconfig.LoadDefault()
	if err != nil {
		return fmt.Errorf("reflow: loading config: %w", err)
	}

	def, err := workflowfile.Load(*workflowPath)
	if err != nil {
		return err
	}
	g, err := workflowfile.Build(def)
	if err != nil {
		return err
	}
	t := target.Of(g)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	frozen, err := st.LoadSnapshot(context.Background(), *runID)
	if err != nil {
		return fmt.Errorf("reflow: loading snapshot %q: %w", *runID, err)
	}

	sched := newScheduler(cfg)
	exec, err := execution.Thaw(frozen, t, sched)
	if err != nil {
		return fmt.Errorf("reflow: thawing run %q: %w", *runID, err)
	}

	return runAndFreeze(log, st, *runID, exec, sched)
}

// resolveTarget restricts g to the nodes named by a comma-separated key
// list plus everything they transitively depend on, or returns the whole
// graph if keys is empty.
func resolveTarget(g *graph.Graph, keys string) (target.Target, error) {
	whole := target.Of(g)
	if keys == "" {
		return whole, nil
	}
	return target.StoppingAfterKeys(whole, strings.Split(keys, ","))
}

func newScheduler(cfg *reflowconfig.Config) *localscheduler.Scheduler {
	return localscheduler.New(
		localscheduler.WithConcurrency(cfg.Concurrency),
		localscheduler.WithRetryConfig(localscheduler.RetryConfig{
			InitialInterval:     cfg.Retry.InitialInterval,
			MaxInterval:         cfg.Retry.MaxInterval,
			MaxElapsedTime:      cfg.Retry.MaxElapsedTime,
			Multiplier:          cfg.Retry.Multiplier,
			RandomizationFactor: cfg.Retry.RandomizationFactor,
		}),
	)
}

func openStore(cfg *reflowconfig.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.Open(context.Background(), cfg.Store.Path)
	case "postgres":
		return postgres.Open(context.Background(), cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("reflow: unsupported store driver %q", cfg.Store.Driver)
	}
}

// runAndFreeze runs exec to completion, or until ctx is cancelled by a
// signal, in which case it shuts the scheduler down, freezes the
// in-progress execution, and persists the snapshot before returning.
func runAndFreeze(log *reflowlog.Logger, st store.Store, runID string, exec *execution.Execution, sched *localscheduler.Scheduler) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := exec.Run(ctx)

	if ctx.Err() != nil {
		log.Warnf("run %q interrupted, freezing", runID)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sched.Shutdown(shutdownCtx); err != nil {
			log.Warnf("scheduler shutdown: %v", err)
		}

		frozen, err := exec.Freeze()
		if err != nil {
			return fmt.Errorf("reflow: freezing run %q: %w", runID, err)
		}
		if err := st.SaveSnapshot(context.Background(), runID, frozen); err != nil {
			return fmt.Errorf("reflow: saving snapshot %q: %w", runID, err)
		}
		log.Infof("run %q frozen; resume with: reflow resume --run-id %s", runID, runID)
		return runErr
	}

	if runErr != nil {
		return runErr
	}
	log.Infof("run %q completed", runID)
	return nil
}
