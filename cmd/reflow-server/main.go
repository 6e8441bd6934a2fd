// Command reflow-server exposes the execution engine over HTTP: submit a
// workflow, poll its progress, and freeze or shut it down early.
package main

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/tripflow/reflow/internal/execution"
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
	cfg, err := reflowconfig.LoadDefault()
	if err != nil {
		log.Fatalf("reflow-server: loading config: %v", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("reflow-server: opening store: %v", err)
	}
	defer st.Close()

	srv := newServer(cfg, st)

	app := fiber.New()
	app.Post("/runs", srv.createRun)
	app.Get("/runs/:id", srv.getRun)
	app.Post("/runs/:id/freeze", srv.freezeRun)
	app.Post("/runs/:id/shutdown", srv.shutdownRun)

	log.Fatal(app.Listen(cfg.Server.Addr))
}

func openStore(cfg *reflowconfig.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.Open(context.Background(), cfg.Store.Path)
	case "postgres":
		return postgres.Open(context.Background(), cfg.Store.DSN)
	default:
		return nil, errors.New("reflow-server: unsupported store driver " + cfg.Store.Driver)
	}
}

// runHandle is the in-memory bookkeeping for one submitted run, live until
// its background Run goroutine finishes and persists a final snapshot.
type runHandle struct {
	exec   *execution.Execution
	sched  *localscheduler.Scheduler
	cancel context.CancelFunc
	done   chan struct{}
}

type server struct {
	cfg   *reflowconfig.Config
	store store.Store
	log   *reflowlog.Logger

	mu   sync.Mutex
	runs map[string]*runHandle
}

func newServer(cfg *reflowconfig.Config, st store.Store) *server {
	return &server{
		cfg:   cfg,
		store: st,
		log:   reflowlog.New("reflow-server"),
		runs:  make(map[string]*runHandle),
	}
}

type createRunRequest struct {
	RunID        string `json:"run_id"`
	WorkflowPath string `json:"workflow_path"`
	Target       string `json:"target"`
	SkipFresh    bool   `json:"skip_fresh"`
}

func (s *server) createRun(c fiber.Ctx) error {
	var req createRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.RunID == "" || req.WorkflowPath == "" {
		return c.Status(400).JSON(fiber.Map{"error": "run_id and workflow_path are required"})
	}

	s.mu.Lock()
	if _, exists := s.runs[req.RunID]; exists {
		s.mu.Unlock()
		return c.Status(409).JSON(fiber.Map{"error": "run_id already in use"})
	}
	s.mu.Unlock()

	def, err := workflowfile.Load(req.WorkflowPath)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	g, err := workflowfile.Build(def)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	whole := target.Of(g)
	t := whole
	if req.Target != "" {
		t, err = target.StoppingAfterKeys(whole, strings.Split(req.Target, ","))
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
	}

	sched := localscheduler.New(
		localscheduler.WithConcurrency(s.cfg.Concurrency),
		localscheduler.WithRetryConfig(localscheduler.RetryConfig{
			InitialInterval:     s.cfg.Retry.InitialInterval,
			MaxInterval:         s.cfg.Retry.MaxInterval,
			MaxElapsedTime:      s.cfg.Retry.MaxElapsedTime,
			Multiplier:          s.cfg.Retry.Multiplier,
			RandomizationFactor: s.cfg.Retry.RandomizationFactor,
		}),
	)

	var exec *execution.Execution
	if req.SkipFresh {
		exec, err = execution.NewSkipFresh(t, sched)
	} else {
		exec, err = execution.New(t, sched)
	}
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	s.startRun(req.RunID, exec, sched)
	return c.Status(202).JSON(fiber.Map{"run_id": req.RunID, "state": exec.State().String()})
}

func (s *server) startRun(runID string, exec *execution.Execution, sched *localscheduler.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{exec: exec, sched: sched, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.runs[runID] = handle
	s.mu.Unlock()

	go func() {
		defer close(handle.done)
		runErr := exec.Run(ctx)
		if runErr != nil {
			s.log.Warnf("run %q ended with error: %v", runID, runErr)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := sched.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("run %q scheduler shutdown: %v", runID, err)
		}

		frozen, err := exec.Freeze()
		if err != nil {
			s.log.Errorf("run %q: freezing: %v", runID, err)
			return
		}
		if err := s.store.SaveSnapshot(context.Background(), runID, frozen); err != nil {
			s.log.Errorf("run %q: saving snapshot: %v", runID, err)
		}
	}()
}

func (s *server) getRun(c fiber.Ctx) error {
	runID := c.Params("id")

	s.mu.Lock()
	handle, live := s.runs[runID]
	s.mu.Unlock()

	if live {
		select {
		case <-handle.done:
			live = false
		default:
		}
	}

	if live {
		return c.JSON(fiber.Map{
			"run_id":   runID,
			"state":    handle.exec.State().String(),
			"statuses": statusesToJSON(handle.exec.Statuses()),
		})
	}

	frozen, err := s.store.LoadSnapshot(c.Context(), runID)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "run not found"})
	}
	return c.JSON(fiber.Map{
		"run_id":   runID,
		"state":    "SHUTDOWN",
		"statuses": frozen.Statuses,
		"errors":   frozen.Errs,
	})
}

// freezeRun cancels the run's context, causing its Run call to return as
// soon as in-flight dispatch observes cancellation, then waits for the
// background goroutine to persist the resulting snapshot.
func (s *server) freezeRun(c fiber.Ctx) error {
	handle, ok := s.lookupLive(c.Params("id"))
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "run not found or already finished"})
	}
	handle.cancel()
	return s.awaitDone(c, handle)
}

// shutdownRun stops the run from dispatching further nodes but lets
// already-submitted ones finish, then waits for the snapshot to persist.
func (s *server) shutdownRun(c fiber.Ctx) error {
	handle, ok := s.lookupLive(c.Params("id"))
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "run not found or already finished"})
	}
	if err := handle.exec.Shutdown(c.Context()); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return s.awaitDone(c, handle)
}

func (s *server) lookupLive(runID string) (*runHandle, bool) {
	s.mu.Lock()
	handle, ok := s.runs[runID]
	s.mu.Unlock()
	return handle, ok
}

func (s *server) awaitDone(c fiber.Ctx, handle *runHandle) error {
	select {
	case <-handle.done:
		return c.JSON(fiber.Map{"state": handle.exec.State().String()})
	case <-c.Context().Done():
		return c.Status(202).JSON(fiber.Map{"state": "draining"})
	}
}

func statusesToJSON(statuses map[string]execution.NodeStatus) map[string]fiber.Map {
	out := make(map[string]fiber.Map, len(statuses))
	for key, st := range statuses {
		entry := fiber.Map{"state": st.State.String()}
		if st.Token != nil {
			entry["token"] = st.Token.String()
		}
		out[key] = entry
	}
	return out
}
