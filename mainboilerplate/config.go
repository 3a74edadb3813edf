package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// Version and BuildDate are populated at build time via -ldflags.
var (
	Version   = "development"
	BuildDate = "unknown"
)

// MustParseConfig requires that the Parser parse from the combination of an
// optional INI file, configured environment bindings, and explicit flags.
// An INI file matching |configName| is searched for in:
//   - The current working directory.
//   - ~/.config/raftlite (under the user's $HOME or %UserProfile% directory).
//   - $RAFTLITE_CONFIG_ROOT
func MustParseConfig(parser *flags.Parser, configName string) {
	MustParseArgs(parser, configName, os.Args[1:])
}

// MustParseArgs is MustParseConfig of explicit |args|.
func MustParseArgs(parser *flags.Parser, configName string, args []string) {
	if err := ParseConfig(parser, configName, args); err != nil {
		handleParseError(parser, err)
	}
}

// ParseConfig parses an optional INI file and then |args| into the Parser.
func ParseConfig(parser *flags.Parser, configName string, args []string) error {
	// Allow unknown options while parsing an INI file.
	var origOptions = parser.Options
	parser.Options |= flags.IgnoreUnknown

	var iniParser = flags.NewIniParser(parser)

	for _, prefix := range configPrefixes() {
		var path = filepath.Join(prefix, configName)

		if err := iniParser.ParseFile(path); err == nil {
			break
		} else if os.IsNotExist(err) {
			// Pass.
		} else {
			parser.Options = origOptions
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	// Restore original options for parsing argument flags.
	parser.Options = origOptions
	var _, err = parser.ParseArgs(args)
	return err
}

func configPrefixes() []string {
	var out = []string{"."}
	if home := os.Getenv("HOME"); home != "" {
		out = append(out, filepath.Join(home, ".config", "raftlite"))
	}
	if profile := os.Getenv("UserProfile"); profile != "" {
		out = append(out, filepath.Join(profile, ".config", "raftlite"))
	}
	if root := os.Getenv("RAFTLITE_CONFIG_ROOT"); root != "" {
		out = append(out, root)
	}
	return out
}

func handleParseError(parser *flags.Parser, err error) {
	var flagErr, ok = err.(*flags.Error)
	if !ok {
		Must(err, "fatal error")
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		// These indicate a problem in the configuration object |parser| was
		// asked to parse (a developer error rather than an input error).
		panic(err)

	case flags.ErrCommandRequired:
		// Extend go-flag's "Please specify one command of: ... " output with the full usage.
		os.Stderr.WriteString("\n")
		parser.WriteHelp(os.Stderr)
		fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
		os.Exit(1)

	case flags.ErrHelp:
		if parser.Options&flags.PrintErrors == 0 {
			parser.WriteHelp(os.Stderr)
			fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
		}
		os.Exit(1)

	default:
		// Other error types indicate a problem of input, and go-flags has
		// already printed a helpful message.
		os.Exit(1)
	}
}

// AddPrintConfigCmd to the Parser. The "print-config" command helps users test
// whether their applications are correctly configured, by exporting all runtime
// configuration in INI format.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	_, _ = parser.AddCommand("print-config", "Print combined configuration and exit", `
print-config parses the combined configuration from `+configName+`, flags,
and environment variables, and then writes the configuration to stdout in INI format.
`, &printConfig{parser})
}

type printConfig struct {
	*flags.Parser `no-flag:"t"`
}

func (p printConfig) Execute([]string) error {
	var ini = flags.NewIniParser(p.Parser)
	ini.Write(os.Stdout, flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
