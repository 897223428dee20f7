package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/audiograph/corefw/internal/buffer"
	"github.com/audiograph/corefw/internal/component"
	"github.com/audiograph/corefw/internal/conf"
	"github.com/audiograph/corefw/internal/dma"
	"github.com/audiograph/corefw/internal/hostmsg"
	"github.com/audiograph/corefw/internal/logging"
	"github.com/audiograph/corefw/internal/metrics"
	"github.com/audiograph/corefw/internal/pipeline"
	"github.com/audiograph/corefw/internal/posn"
	"github.com/audiograph/corefw/internal/sched"
	"github.com/audiograph/corefw/internal/streamfmt"
	"github.com/audiograph/corefw/internal/trigger"
)

var log = logging.ForService("coresim")

func runCommand() *cobra.Command {
	var (
		statusAddr string
		periodUS   int64
		frames     int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "build a loopback pipeline and drive it through start/stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), statusAddr, periodUS, frames)
		},
	}

	cmd.Flags().StringVar(&statusAddr, "status-addr", ":8090", "address to serve /status and /metrics on")
	cmd.Flags().Int64Var(&periodUS, "period-us", 1000, "schedule period in microseconds")
	cmd.Flags().IntVar(&frames, "frames", 192, "frames per schedule tick")

	return cmd
}

func runSimulation(ctx context.Context, statusAddr string, periodUS int64, frames int) error {
	logging.Init()
	log = logging.ForService("coresim")
	settings := conf.Setting()
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	g := pipeline.NewGraph()
	stream := streamfmt.Format{
		Sample:       streamfmt.FormatS16LE,
		Channels:     2,
		SampleRateHz: 48000,
		Direction:    streamfmt.Capture,
	}

	periodBytes := frames * stream.FrameBytes()
	hostChannel := dma.NewChannel(dma.NewMemoryBackend())
	sinkChannel := dma.NewChannel(dma.NewMemoryBackend())

	host := component.New(1, 0, 0, component.VariantHostEndpoint, component.NewHostEndpoint(hostChannel, streamfmt.Capture, periodBytes))
	sink := component.New(2, 0, 0, component.VariantDAIEndpoint, component.NewDAIEndpoint(sinkChannel, periodBytes))
	hostH := g.Components.Alloc(host)
	sinkH := g.Components.Alloc(sink)

	buf, err := buffer.New(stream, frames*stream.FrameBytes()*4)
	if err != nil {
		return fmt.Errorf("coresim: allocate buffer: %w", err)
	}
	buf.SetXrunLimitUS(settings.Buffer.DefaultXrunLimitUS)
	bufH := g.Buffers.Alloc(buf)

	p, err := pipeline.New(g, 1, 5, hostH, periodUS, frames, 0, pipeline.TimerDomain)
	if err != nil {
		return fmt.Errorf("coresim: new pipeline: %w", err)
	}
	if err := p.Connect(hostH, bufH, buffer.CompToBuffer); err != nil {
		return fmt.Errorf("coresim: connect host: %w", err)
	}
	if err := p.Connect(sinkH, bufH, buffer.BufferToComp); err != nil {
		return fmt.Errorf("coresim: connect sink: %w", err)
	}
	if err := p.Complete(hostH, sinkH); err != nil {
		return fmt.Errorf("coresim: complete pipeline: %w", err)
	}

	domain := sched.NewDomain(sched.TimerDomain, 0, 1000, nil)
	scheduler := sched.NewScheduler(0, domain)
	task := sched.NewTask(p, p.Priority, periodUS, p.Core)
	if err := scheduler.Register(task); err != nil {
		return fmt.Errorf("coresim: register task: %w", err)
	}

	engine := trigger.NewEngine(g)

	mailbox := posn.NewPool(settings.Posn.MailboxCapacity)
	if _, err := mailbox.Allocate(p.ID); err != nil {
		return fmt.Errorf("coresim: allocate mailbox slot: %w", err)
	}

	dispatcher := hostmsg.NewDispatcher(32, func(ctx context.Context, verb hostmsg.Verb, args any) ([]byte, error) {
		switch verb {
		case hostmsg.VerbTrigger:
			ta := args.(hostmsg.TriggerArgs)
			return nil, engine.Trigger(ctx, p, component.Cmd(ta.Cmd), nil)
		case hostmsg.VerbGetData:
			return []byte(fmt.Sprintf("avail=%d free=%d", buf.Avail(), buf.Free())), nil
		default:
			return nil, nil
		}
	})
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	go dispatcher.Run(dispatchCtx)
	defer cancelDispatch()

	if reply := dispatcher.Send(ctx, hostmsg.VerbTrigger, hostmsg.TriggerArgs{PipelineID: p.ID, Cmd: int(component.CmdPrepare)}); reply.Status != hostmsg.StatusOK {
		return fmt.Errorf("coresim: prepare: %w", reply.Err)
	}
	if reply := dispatcher.Send(ctx, hostmsg.VerbTrigger, hostmsg.TriggerArgs{PipelineID: p.ID, Cmd: int(component.CmdStart)}); reply.Status != hostmsg.StatusOK {
		return fmt.Errorf("coresim: start: %w", reply.Err)
	}
	collector.RecordTrigger("start", "ok")

	srv := newStatusServer(statusAddr, g, p, scheduler, mailbox)
	go func() {
		if err := srv.start(); err != nil {
			log.Error("status server exited", "error", err)
		}
	}()
	defer srv.stop(context.Background())

	log.Info("coresim running", "status_addr", statusAddr, "period_us", periodUS, "frames", frames, "trace_id", p.TraceID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(periodUS) * time.Microsecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info("shutting down")
			if reply := dispatcher.Send(ctx, hostmsg.VerbTrigger, hostmsg.TriggerArgs{PipelineID: p.ID, Cmd: int(component.CmdStop)}); reply.Status != hostmsg.StatusOK {
				log.Error("stop failed", "error", reply.Err)
			}
			if err := mailbox.Release(p.ID); err != nil {
				log.Error("mailbox release failed", "error", err)
			}
			return nil
		case <-ticker.C:
			domain.Advance(periodUS)
			if err := scheduler.Tick(ctx); err != nil {
				log.Error("tick failed", "error", err)
			}
			collector.RecordTick("0")
			collector.SetBufferAvail("ingress", buf.Avail())
			collector.SetTasksActive("0", len(scheduler.Tasks()))
			if err := mailbox.Update(p.ID, uint64(buf.Avail()), uint64(buf.Free())); err != nil {
				log.Error("mailbox update failed", "error", err)
			}
		}
	}
}
