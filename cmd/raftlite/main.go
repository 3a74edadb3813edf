package main

import (
	"github.com/jessevdk/go-flags"

	mbp "go.raftlite.dev/core/mainboilerplate"
)

const iniFilename = "raftlite.ini"

func main() {
	var parser = flags.NewParser(nil, flags.Default)

	parser.LongDescription = `raftlite runs and inspects the data directories of raftlite nodes.

	See --help pages of each sub-command for documentation and usage examples.
	Optionally configure raftlite with a '` + iniFilename + `' file in the current working directory,
	or with '~/.config/raftlite/` + iniFilename + `'. Use the 'print-config' sub-command to inspect
	the tool's current configuration.
	`
	mbp.AddPrintConfigCmd(parser, iniFilename)

	mustAddCmd(parser.Command, "serve", "Serve a raftlite node", `
Serve a node of the configured data directory until signaled to exit
(via SIGTERM or SIGINT). The directory is bootstrapped if it's empty.
`, &serveCfg)

	mustAddCmd(parser.Command, "list", "List the log and snapshots of a data directory", `
List the snapshots and log segments found in a data directory.

The directory is scanned without modification, and may be listed while a node
is serving it. Incomplete snapshots are omitted. Use --verify to additionally
check that closed segments are contiguous and covered by the latest snapshot.

Results can be output in a variety of --format options:
table: Prints as a humanized table.
json: Prints the inventory encoded as JSON.
yaml: Prints the inventory encoded as YAML.
`, &listCfg)

	mustAddCmd(parser.Command, "recover", "Rewrite the cluster membership of a data directory", `
Rewrite the cluster membership of a stopped node's data directory.

--nodes names a YAML file holding a list of members, such as:

  - id: 1
    address: 10.0.0.1:9001
    role: voter
  - id: 2
    address: 10.0.0.2:9001
    role: stand-by

Roles are one of "voter", "stand-by", or "spare". The directory must have been
bootstrapped by a prior serve, and must not be in use by a running node.
Log segments and snapshots are not modified.
`, &recoverCfg)

	mbp.MustParseConfig(parser, iniFilename)
}

func mustAddCmd(cmd *flags.Command, name, short, long string, cfg interface{}) *flags.Command {
	cmd, err := cmd.AddCommand(name, short, long, cfg)
	mbp.Must(err, "failed to add command")
	return cmd
}
