package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	mbp "go.raftlite.dev/core/mainboilerplate"
	"go.raftlite.dev/core/node"
	"go.raftlite.dev/core/task"
)

type cmdServe struct {
	Node        node.Config           `group:"Node" namespace:"node" env-namespace:"NODE"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

var serveCfg cmdServe

func (cmd *cmdServe) Execute([]string) error {
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"config":    cmd,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("serve configuration")

	var n, err = node.New(cmd.Node)
	mbp.Must(err, "failed to build node")
	diag, err := mbp.InitDiagnostics(cmd.Diagnostics)
	mbp.Must(err, "failed to initialize diagnostics")

	mbp.Must(n.Start(), "failed to start node", "dir", n.Dir())

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	var tasks = task.NewGroup(context.Background())
	if diag != nil {
		tasks.Queue("diagnostics.Serve", func() error { return diag.Serve(tasks.Context()) })
	}
	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})
	tasks.Start()

	// A failed log writer brings down the server.
	var nodeDone = n.Done()
	tasks.Go("watch node", func() error {
		select {
		case <-nodeDone:
			return n.Err()
		case <-tasks.Context().Done():
			return nil
		}
	})

	log.WithFields(log.Fields{"id": n.ID(), "dir": n.Dir()}).Info("node is serving")

	var taskErr = tasks.Wait()
	if err = n.Stop(); err != nil {
		log.WithFields(log.Fields{"err": err, "dir": n.Dir()}).Error("failed to stop node")
		if taskErr == nil {
			taskErr = err
		}
	}
	log.Info("goodbye")
	return taskErr
}
