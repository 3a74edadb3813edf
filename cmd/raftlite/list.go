package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	mbp "go.raftlite.dev/core/mainboilerplate"
	"go.raftlite.dev/core/raftlog"
	"gopkg.in/yaml.v2"
)

type cmdList struct {
	Dir    string        `long:"dir" env:"DIR" required:"true" description:"Data directory to list"`
	Format string        `long:"format" short:"o" choice:"table" choice:"json" choice:"yaml" default:"table" description:"Output format"`
	Verify bool          `long:"verify" description:"Verify the consistency of closed segments and snapshots"`
	Log    mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

var listCfg cmdList

// listing is the serialized form of an Inventory.
type listing struct {
	Snapshots []listedSnapshot `json:"snapshots" yaml:"snapshots"`
	Segments  []listedSegment  `json:"segments" yaml:"segments"`
}

type listedSnapshot struct {
	Term      uint64    `json:"term" yaml:"term"`
	Index     uint64    `json:"index" yaml:"index"`
	Taken     time.Time `json:"taken" yaml:"taken"`
	Codec     string    `json:"codec" yaml:"codec"`
	Parts     int       `json:"parts" yaml:"parts"`
	Length    int64     `json:"length" yaml:"length"`
	DataSize  int64     `json:"data_size" yaml:"data_size"`
	Filenames []string  `json:"filenames" yaml:"filenames"`
}

type listedSegment struct {
	Filename string `json:"filename" yaml:"filename"`
	Open     bool   `json:"open" yaml:"open"`
	First    uint64 `json:"first" yaml:"first"`
	End      uint64 `json:"end,omitempty" yaml:"end,omitempty"`
	Size     int64  `json:"size" yaml:"size"`
}

func (cmd *cmdList) Execute([]string) error {
	mbp.InitLog(cmd.Log)

	var inv, err = raftlog.List(afero.NewOsFs(), cmd.Dir)
	mbp.Must(err, "failed to list data directory", "dir", cmd.Dir)

	if cmd.Verify {
		if err = inv.Verify(); err != nil {
			return fmt.Errorf("verifying %s: %w", cmd.Dir, err)
		}
	}

	switch cmd.Format {
	case "table":
		outputTable(inv)
	case "json":
		var enc = json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		mbp.Must(enc.Encode(toListing(inv)), "failed to encode to json")
	case "yaml":
		var b, err = yaml.Marshal(toListing(inv))
		mbp.Must(err, "failed to encode to yaml")
		_, _ = os.Stdout.Write(b)
	}
	return nil
}

func toListing(inv raftlog.Inventory) listing {
	var out = listing{
		Snapshots: []listedSnapshot{},
		Segments:  []listedSegment{},
	}
	for _, s := range inv.Snapshots {
		out.Snapshots = append(out.Snapshots, listedSnapshot{
			Term:      s.Term,
			Index:     s.Index,
			Taken:     time.UnixMilli(int64(s.Timestamp)).UTC(),
			Codec:     s.Meta.Codec.String(),
			Parts:     s.Meta.Parts,
			Length:    s.Meta.ContentLength,
			DataSize:  s.DataSize,
			Filenames: append([]string{s.MetaFilename}, s.DataFilenames()...),
		})
	}
	for _, s := range inv.Segments {
		out.Segments = append(out.Segments, listedSegment{
			Filename: s.Filename,
			Open:     s.Open,
			First:    s.First,
			End:      s.End,
			Size:     s.Size,
		})
	}
	return out
}

func outputTable(inv raftlog.Inventory) {
	var table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Kind", "Name", "Term", "Indices", "Size", "Detail"})

	for _, s := range inv.Snapshots {
		table.Append([]string{
			"snapshot",
			s.MetaFilename,
			strconv.FormatUint(s.Term, 10),
			strconv.FormatUint(s.Index, 10),
			humanize.IBytes(uint64(s.DataSize)),
			fmt.Sprintf("%s, %d part(s), taken %s",
				s.Meta.Codec, len(s.DataFilenames()), humanize.Time(time.UnixMilli(int64(s.Timestamp)))),
		})
	}
	for _, s := range inv.Segments {
		var kind, indices = "closed", fmt.Sprintf("%d-%d", s.First, s.End)
		var detail = humanize.Comma(int64(s.Len())) + " entries"
		if s.Open {
			kind, indices, detail = "open", fmt.Sprintf("%d-", s.First), ""
		}
		table.Append([]string{
			kind,
			s.Filename,
			"",
			indices,
			humanize.IBytes(uint64(s.Size)),
			detail,
		})
	}
	table.Render()
}
