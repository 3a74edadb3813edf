package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	mbp "go.raftlite.dev/core/mainboilerplate"
	"go.raftlite.dev/core/node"
	"gopkg.in/yaml.v2"
)

type cmdRecover struct {
	Dir   string        `long:"dir" env:"DIR" required:"true" description:"Data directory to recover"`
	Nodes string        `long:"nodes" env:"NODES" required:"true" description:"Path to a YAML file of recovered cluster members"`
	Log   mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

var recoverCfg cmdRecover

func (cmd *cmdRecover) Execute([]string) error {
	mbp.InitLog(cmd.Log)

	var b, err = os.ReadFile(cmd.Nodes)
	mbp.Must(err, "failed to read nodes file", "path", cmd.Nodes)

	var members []node.NodeInfo
	mbp.Must(yaml.UnmarshalStrict(b, &members), "failed to decode nodes file", "path", cmd.Nodes)

	var infos = make([]node.NodeInfoExt, len(members))
	for i, m := range members {
		infos[i] = node.NewNodeInfoExt(m)
	}

	var n *node.Node
	n, err = node.New(node.Config{Dir: cmd.Dir, BindAddress: "recovery"})
	mbp.Must(err, "failed to build node")

	if err = n.RecoverExt(infos); err != nil {
		return err
	}
	log.WithFields(log.Fields{"dir": cmd.Dir, "nodes": len(infos)}).Info("recovered cluster membership")
	return nil
}
