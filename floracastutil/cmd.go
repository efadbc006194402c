/*
Copyright © 2025 the Floracast authors.
This file is part of Floracast.

Floracast is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Floracast is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Floracast.  If not, see <http://www.gnu.org/licenses/>.*/

// Package floracastutil holds the configuration surface and command
// wiring shared by the floracast executables.
package floracastutil

import (
	"fmt"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version is the version of this release of Floracast.
const Version = "0.3.1"

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to Floracast.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel sets the logging verbosity: debug, info, warn, or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "DatabaseURL",
			usage: `
              DatabaseURL is the PostgreSQL connection string of the species
              catalog. The database must have the PostGIS extension installed.`,
			defaultVal: "postgres://localhost:5432/floracast?sslmode=disable",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "HTTP.ListenAddr",
			usage: `
              HTTP.ListenAddr is the address the recommendation API listens on.`,
			defaultVal: ":8080",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "HTTP.InMemoryLocator",
			usage: `
              HTTP.InMemoryLocator loads the region polygons into an in-process
              spatial index at startup instead of running containment queries
              in PostGIS. Worth it when coordinate lookups dominate.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "RegionsFile",
			usage: `
              RegionsFile is the location of the TDWG level-3 GeoJSON feature
              collection (WGSRPD distribution format) to load.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{loadRegionsCmd.Flags()},
		},
		{
			name: "Crawl.Source",
			usage: `
              Crawl.Source selects the ingestion source to run: backbone,
              traits-growth, traits-ecology, distribution, ecoregion,
              occurrence, or climate.`,
			shorthand:  "s",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Crawl.Mode",
			usage: `
              Crawl.Mode chooses between resuming from the stored cursor
              ('incremental') and restarting from the beginning ('full').`,
			defaultVal: "incremental",
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Crawl.MaxRecords",
			usage: `
              Crawl.MaxRecords caps the number of records processed in this
              run. 0 means run to completion. A capped run stops at a
              checkpoint; the next incremental run resumes from it.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Crawl.PageSize",
			usage: `
              Crawl.PageSize is the number of records requested per upstream
              page.`,
			defaultVal: 1000,
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Crawl.RateLimit",
			usage: `
              Crawl.RateLimit is the maximum number of upstream requests per
              second.`,
			defaultVal: 5.0,
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Crawl.UserAgent",
			usage: `
              Crawl.UserAgent is the User-Agent header sent with upstream
              requests.`,
			defaultVal: "floracast/" + Version,
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Crawl.VocabFile",
			usage: `
              Crawl.VocabFile is the location of a TOML table mapping raw
              source growth-form vocabulary onto the canonical forms. When
              empty the built-in mapping is used.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Sources.Backbone",
			usage: `
              Sources.Backbone is the base URL of the taxonomic backbone API.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Sources.TraitGrowth",
			usage: `
              Sources.TraitGrowth is the base URL of the growth-form and
              height trait source.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Sources.TraitEcology",
			usage: `
              Sources.TraitEcology is the base URL of the ecological trait
              source (nitrogen fixation, dispersal, lifespan, threat status).`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Sources.Distribution",
			usage: `
              Sources.Distribution is the base URL of the TDWG distribution
              source.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Sources.Ecoregion",
			usage: `
              Sources.Ecoregion is the base URL of the ecoregion reference
              and species-link source.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Sources.Occurrence",
			usage: `
              Sources.Occurrence is the base URL of the occurrence record
              source.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
		{
			name: "Sources.Climate",
			usage: `
              Sources.Climate is the base URL of the regional climate
              aggregate source.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{crawlCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("FLORACAST")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(migrateCmd)
	Root.AddCommand(loadRegionsCmd)
	Root.AddCommand(serveCmd)
	Root.AddCommand(crawlCmd)
	Root.AddCommand(consolidateCmd)
	Root.AddCommand(deriveCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("floracast: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// initLog builds the process logger from the configured level.
func initLog() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})
	level, err := logrus.ParseLevel(Cfg.GetString("LogLevel"))
	if err != nil {
		level = logrus.InfoLevel
		log.WithField("LogLevel", Cfg.GetString("LogLevel")).Warn("unknown log level, using info")
	}
	log.SetLevel(level)
	return log
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "floracast",
	Short: "A native species recommendation service.",
	Long: `Floracast ingests botanical occurrence, trait, and distribution data,
derives climate envelopes, and recommends ecologically diverse native
species for a location. Use the subcommands specified below to access
the service functionality.

Configuration can be changed by using a configuration file (and providing
the path to the file using the --config flag), by using command-line
arguments, or by setting environment variables in the format
'FLORACAST_var' where 'var' is the name of the variable to be set.
Refer to https://github.com/spf13/viper for additional configuration
information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of Floracast.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Floracast v%s\n", Version)
	},
	DisableAutoGenTag: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the catalog database schema.",
	Long: `migrate creates or updates the catalog tables, indexes, and views.
It is safe to run repeatedly; every statement is idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Migrate(cmd.Context())
	},
	DisableAutoGenTag: true,
}

var loadRegionsCmd = &cobra.Command{
	Use:   "load-regions",
	Short: "Load the TDWG region reference.",
	Long: `load-regions reads a TDWG level-3 GeoJSON feature collection and
upserts the region reference table the crawlers and the location
resolver depend on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := Cfg.GetString("RegionsFile")
		if path == "" {
			return fmt.Errorf("floracast: no region file given; set RegionsFile")
		}
		return LoadRegions(cmd.Context(), path)
	},
	DisableAutoGenTag: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the recommendation API.",
	Long: `serve starts the recommendation HTTP API and blocks until the
process receives an interrupt or termination signal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return StartServer(cmd.Context())
	},
	DisableAutoGenTag: true,
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run one ingestion crawler.",
	Long: `crawl runs the ingestion source selected with --Crawl.Source under
the single-instance lock. An incremental run resumes from the stored
cursor; a full run restarts from the beginning. The exit status is 0
when the crawl completes and nonzero when it fails; a failed run keeps
its last checkpoint so the next run resumes from it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Crawl(cmd.Context())
	},
	DisableAutoGenTag: true,
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Resolve taxonomy and rebuild the unified tables.",
	Long: `consolidate runs the taxonomic resolver over all unresolved species,
rebuilds the unified trait table from the raw trait sources, and
rebuilds the consolidated regional distribution from the raw
membership tuples.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Consolidate(cmd.Context())
	},
	DisableAutoGenTag: true,
}

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive climate envelopes.",
	Long: `derive computes the occurrence, ecoregion, and regional climate
envelopes for every species with enough samples and rebuilds the
unified envelope view.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Derive(cmd.Context())
	},
	DisableAutoGenTag: true,
}
