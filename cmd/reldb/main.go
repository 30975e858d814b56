// Command reldb inspects reldb databases and creates sample ones.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/andreyvit/reldb"
)

type globalConfig struct {
	Config   string `long:"config" short:"c" description:"YAML, TOML or JSON config file; command-line flags override it"`
	Home     string `long:"home" short:"H" env:"RELDB_HOME" description:"Database home directory"`
	LogLevel string `long:"log-level" default:"warning" choice:"trace" choice:"debug" choice:"info" choice:"warning" choice:"error" description:"Logging level"`
	Verbose  bool   `long:"verbose" short:"v" description:"Log every operation"`
}

var (
	baseCfg = new(globalConfig)
	parser  = flags.NewParser(baseCfg, flags.Default)
)

func main() {
	mustAddCmd("stat", "Show the buckets of a database", `
List every bucket of the database in the home directory, along with its
number of keys and the space it takes.
`, &cmdStat{})
	mustAddCmd("demo", "Create the seasons and months sample database", `
Create a database with a "seasons" table and a "months" table that references
it through a foreign key, then print the tables, the "season" index and a
join, the way an application would query them.
`, &cmdDemo{})

	if _, err := parser.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func mustAddCmd(name, short, long string, data any) {
	if _, err := parser.AddCommand(name, short, long, data); err != nil {
		panic(err)
	}
}

// openOptions merges the config file, if any, with the command-line flags.
func openOptions() (string, reldb.Options, error) {
	cfg := &reldb.Config{Home: baseCfg.Home, LogLevel: baseCfg.LogLevel, Verbose: baseCfg.Verbose}
	if baseCfg.Config != "" {
		var err error
		if cfg, err = reldb.LoadConfig(baseCfg.Config); err != nil {
			return "", reldb.Options{}, err
		}
		if baseCfg.Home != "" {
			cfg.Home = baseCfg.Home
		}
		if baseCfg.Verbose {
			cfg.Verbose = true
		}
	}
	if cfg.Home == "" && !cfg.InMemory {
		return "", reldb.Options{}, fmt.Errorf("--home is required")
	}
	opt, err := cfg.Options()
	if err != nil {
		return "", reldb.Options{}, err
	}
	return cfg.Home, opt, nil
}

func logger(opt reldb.Options) logrus.FieldLogger {
	if opt.Log != nil {
		return opt.Log
	}
	return logrus.StandardLogger()
}
