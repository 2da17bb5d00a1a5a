// Package dbserver is the worker process itself: the single process that
// owns a SQLite file, accepts length-prefixed JSON frames on a Unix-domain
// socket, and serializes every job onto one executor so SQLite's
// single-writer rule is structural rather than advisory.
package dbserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/code-analysis/dbworker/internal/jobstore"
	"github.com/code-analysis/dbworker/internal/txregistry"
	"github.com/code-analysis/dbworker/internal/wire"
	"github.com/code-analysis/dbworker/internal/wlog"
)

// Version is echoed in status responses so a mismatched client/worker pair
// can be diagnosed.
const Version = "1.0.0"

// Config holds the worker's startup parameters: the positional
// (db_path, socket_path, log_path?) contract the worker binary is invoked
// with.
type Config struct {
	DBPath       string
	SocketPath   string
	StatusPath   string // optional; defaults to SocketPath+".status.json"
	JobTTL       time.Duration
	SweepEvery   time.Duration
	AcceptIdle   time.Duration // accept() re-check interval for shutdown
	Log          *wlog.Logger
}

func (c Config) withDefaults() Config {
	if c.JobTTL == 0 {
		c.JobTTL = 5 * time.Minute
	}
	if c.SweepEvery == 0 {
		c.SweepEvery = 60 * time.Second
	}
	if c.AcceptIdle == 0 {
		c.AcceptIdle = time.Second
	}
	if c.StatusPath == "" {
		c.StatusPath = c.SocketPath + ".status.json"
	}
	if c.Log == nil {
		c.Log = wlog.Default()
	}
	return c
}

// Server is the worker. One Server owns exactly one SQLite file for its
// whole lifetime.
type Server struct {
	cfg    Config
	dbPath string

	jobs *jobstore.Store
	txs  *txregistry.Registry
	log  *wlog.Logger
	st   *statusWriter

	queue chan *jobstore.Job

	ln        net.Listener
	startedAt time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:    cfg,
		dbPath: cfg.DBPath,
		jobs:   jobstore.New(),
		txs:    txregistry.New(),
		log:    cfg.Log,
		st:     newStatusWriter(cfg.StatusPath, cfg.Log),
		queue:  make(chan *jobstore.Job, 64),
	}
}

// Run binds the socket and serves until ctx is canceled or a shutdown
// signal arrives. It blocks; callers run it in the worker's main
// goroutine.
func (s *Server) Run(ctx context.Context) error {
	_ = os.Remove(s.cfg.SocketPath)

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		s.log.Warn("worker.chmod_socket_failed", wlog.Fields{"err": err.Error()})
	}
	s.ln = ln
	s.startedAt = time.Now()
	s.log.Info("worker.bound", wlog.Fields{"db_path": s.dbPath, "socket_path": s.cfg.SocketPath})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(2)
	go s.runExecutor(ctx)
	go s.runSweeper(ctx)

	s.acceptLoop(ctx)

	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	cancel()
	s.wg.Wait()

	_ = s.ln.Close()
	_ = os.Remove(s.cfg.SocketPath)
	s.log.Info("worker.stopped", wlog.Fields{"db_path": s.dbPath})
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	type unixListener interface {
		SetDeadline(time.Time) error
	}
	ul, hasDeadline := s.ln.(unixListener)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if hasDeadline {
			_ = ul.SetDeadline(time.Now().Add(s.cfg.AcceptIdle))
		}
		conn, err := s.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("worker.accept_error", wlog.Fields{"err": err.Error()})
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	body, err := wire.ReadFrameBytes(conn)
	if err != nil {
		if !errors.Is(err, wire.ErrClosed) {
			s.log.Warn("worker.read_frame_failed", wlog.Fields{"err": err.Error()})
		}
		return
	}

	var env wire.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		_ = wire.WriteFrame(conn, wire.Response{Success: false, Error: &wire.ResponseError{
			Type: "ProtocolError", Message: "malformed request frame",
		}})
		return
	}

	var resp wire.Response
	switch env.Command {
	case "submit":
		resp = s.handleSubmit(body)
	case "poll":
		resp = s.handlePoll(body)
	case "delete":
		resp = s.handleDelete(body)
	case "status":
		resp = s.handleStatus()
	default:
		resp = wire.Response{Success: false, Error: &wire.ResponseError{
			Type: "ProtocolError", Message: "unknown command " + env.Command,
		}}
	}

	if err := wire.WriteFrame(conn, resp); err != nil {
		s.log.Warn("worker.write_frame_failed", wlog.Fields{"err": err.Error()})
	}
}

func (s *Server) handleSubmit(body []byte) wire.Response {
	var req wire.SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return wire.Response{Success: false, Error: &wire.ResponseError{Type: "ProtocolError", Message: "malformed submit frame"}}
	}
	if req.JobID == "" {
		return wire.Response{Success: false, Error: &wire.ResponseError{Type: "ProtocolError", Message: "Missing job_id"}}
	}

	j := &jobstore.Job{
		JobID:            req.JobID,
		Operation:        req.Operation,
		SQL:              req.SQL,
		Params:           req.Params,
		TableName:        req.TableName,
		TransactionID:    req.TransactionID,
		SchemaDefinition: req.SchemaDefinition,
		BackupDir:        req.BackupDir,
	}

	if opErr := s.jobs.Submit(j); opErr != nil {
		return wire.Response{Success: false, Error: &wire.ResponseError{Type: opErr.Type, Message: opErr.Message}}
	}

	select {
	case s.queue <- j:
	default:
		// Queue saturated: still accept the job (it stays pending and will
		// be picked up once the executor drains), rather than rejecting a
		// submit the caller believes succeeded.
		go func(job *jobstore.Job) { s.queue <- job }(j)
	}

	return wire.Response{Success: true, JobID: j.JobID}
}

func (s *Server) handlePoll(body []byte) wire.Response {
	var req wire.PollRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return wire.Response{Success: false, Error: &wire.ResponseError{Type: "ProtocolError", Message: "malformed poll frame"}}
	}

	j := s.jobs.Get(req.JobID)
	if j == nil {
		return wire.Response{Success: false, Error: &wire.ResponseError{Type: "ProtocolError", Message: "Job not found"}}
	}
	if j.Status == jobstore.StatusPending {
		return wire.Response{Success: true, Status: string(jobstore.StatusPending)}
	}

	resp := wire.Response{
		Success: j.Status == jobstore.StatusCompleted,
		Status:  string(j.Status),
		Result:  j.Result,
	}
	if j.Error != nil {
		resp.Error = &wire.ResponseError{Type: j.Error.Type, Message: j.Error.Message, SQLPreview: j.Error.SQLPreview}
	}
	return resp
}

func (s *Server) handleDelete(body []byte) wire.Response {
	var req wire.DeleteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return wire.Response{Success: false, Error: &wire.ResponseError{Type: "ProtocolError", Message: "malformed delete frame"}}
	}
	if !s.jobs.Delete(req.JobID) {
		return wire.Response{Success: false, Error: &wire.ResponseError{Type: "ProtocolError", Message: "Job not found"}}
	}
	return wire.Response{Success: true}
}

func (s *Server) handleStatus() wire.Response {
	resp := wire.Response{
		Success:       true,
		DBPath:        s.dbPath,
		PendingJobs:   s.jobs.Len(),
		OpenTxns:      s.txs.Len(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		WorkerVersion: Version,
	}
	if st, err := s.st.read(); err == nil && st != nil {
		resp.CurrentOp = st.CurrentOperation
		resp.CurrentFile = st.CurrentFile
		resp.ProgressPercent = st.ProgressPercent
	}
	return resp
}

// runExecutor is the single serial executor every job runs through:
// transactional or not, jobs run here one at a time, so two jobs never
// touch SQLite concurrently from this process.
func (s *Server) runExecutor(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.runJob(ctx, j)
		}
	}
}

func (s *Server) runJob(ctx context.Context, j *jobstore.Job) {
	s.st.write(j.Operation, s.dbPath, nil)

	result, opErr := s.safeDispatch(ctx, j)
	s.jobs.Complete(j.JobID, result, opErr)
}

// safeDispatch recovers a panic from any single job's execution into a
// failed status: the worker process itself must never die because one
// job's SQL (or a driver bug) panicked.
func (s *Server) safeDispatch(ctx context.Context, j *jobstore.Job) (result json.RawMessage, opErr *jobstore.OpError) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("worker.job_panic", wlog.Fields{"job_id": j.JobID, "operation": j.Operation, "recovered": r})
			opErr = opError("OperationFailure", "internal error: %v", r)
			result = nil
		}
	}()
	return s.dispatch(ctx, j)
}

func (s *Server) runSweeper(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.jobs.Sweep(s.cfg.JobTTL)
			if n > 0 {
				s.log.Debug("worker.sweep", wlog.Fields{"removed": n})
			}
		}
	}
}
