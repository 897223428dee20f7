package main

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiograph/corefw/internal/pipeline"
	"github.com/audiograph/corefw/internal/posn"
	"github.com/audiograph/corefw/internal/sched"
)

// statusServer exposes /status (a snapshot of the simulated pipeline and
// its component states) and /metrics (Prometheus) over HTTP, the
// host-observable surface a real collaborator would poll in place of the
// shared-memory stream_posn mailbox during local simulation.
type statusServer struct {
	e         *echo.Echo
	addr      string
	graph     *pipeline.Graph
	p         *pipeline.Pipeline
	scheduler *sched.Scheduler
	mailbox   *posn.Pool
}

func newStatusServer(addr string, g *pipeline.Graph, p *pipeline.Pipeline, s *sched.Scheduler, mailbox *posn.Pool) *statusServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	srv := &statusServer{e: e, addr: addr, graph: g, p: p, scheduler: s, mailbox: mailbox}

	e.GET("/status", srv.handleStatus)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return srv
}

func (s *statusServer) start() error {
	return s.e.Start(s.addr)
}

func (s *statusServer) stop(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

type memberStatus struct {
	Handle uint32 `json:"handle"`
	State  string `json:"state"`
}

type mailboxStatus struct {
	ReadPtr    uint64 `json:"read_ptr"`
	WritePtr   uint64 `json:"write_ptr"`
	Generation uint64 `json:"generation"`
}

type statusResponse struct {
	PipelineID   uint32         `json:"pipeline_id"`
	TraceID      string         `json:"trace_id"`
	PipelineStat string         `json:"pipeline_status"`
	Members      []memberStatus `json:"members"`
	TasksActive  int            `json:"tasks_active"`
	Mailbox      *mailboxStatus `json:"mailbox,omitempty"`
}

func (s *statusServer) handleStatus(c echo.Context) error {
	members := make([]memberStatus, 0, len(s.p.Members()))
	for _, h := range s.p.Members() {
		comp, err := s.graph.Components.Get(h)
		if err != nil {
			continue
		}
		members = append(members, memberStatus{Handle: uint32(h), State: comp.State().String()})
	}

	resp := statusResponse{
		PipelineID:   s.p.ID,
		TraceID:      s.p.TraceID.String(),
		PipelineStat: pipelineStatusString(s.p),
		Members:      members,
		TasksActive:  len(s.scheduler.Tasks()),
	}
	if entry, err := s.mailbox.Read(s.p.ID); err == nil {
		resp.Mailbox = &mailboxStatus{ReadPtr: entry.ReadPtr, WritePtr: entry.WritePtr, Generation: entry.Generation}
	}
	return c.JSON(http.StatusOK, resp)
}

func pipelineStatusString(p *pipeline.Pipeline) string {
	switch p.Status {
	case pipeline.StatusBuilding:
		return "building"
	case pipeline.StatusReady:
		return "ready"
	case pipeline.StatusRunning:
		return "running"
	case pipeline.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
