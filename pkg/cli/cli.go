package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/akashmore/aika/pkg/acestep"
	"github.com/akashmore/aika/pkg/cmd/generate"
	"github.com/akashmore/aika/pkg/cmd/history"
	"github.com/akashmore/aika/pkg/cmd/play"
	"github.com/akashmore/aika/pkg/cmd/selftest"
	"github.com/akashmore/aika/pkg/cmd/web"
	"github.com/peterbourgon/ff/ffyaml"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func New(version, commit, date string) *ffcli.Command {
	fs := flag.NewFlagSet("aika", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "aika [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newGenerateCommand(),
			newHistoryCommand(),
			newDeleteCommand(),
			newClearCommand(),
			newPlayCommand(),
			newTestCommand(),
			newWebCommand(),
		},
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "aika version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func newGenerateCommand() *ffcli.Command {
	cmd := "generate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &generate.Config{}
	sampler := acestep.DefaultConfig()

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (local, sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.Proxy, "proxy", "", "proxy to use")
	fs.DurationVar(&cfg.Timeout, "timeout", 5*time.Minute, "generation timeout (0 means no timeout)")

	fs.StringVar(&cfg.Type, "type", "description", "generation type (description, custom_lyrics, described_lyrics)")
	fs.StringVar(&cfg.Description, "description", "", "full song description")
	fs.StringVar(&cfg.Prompt, "prompt", "", "style prompt")
	fs.StringVar(&cfg.Lyrics, "lyrics", "", "lyrics text")
	fs.StringVar(&cfg.DescribedLyrics, "described-lyrics", "", "description of the lyrics")
	fs.IntVar(&cfg.Duration, "duration", sampler.AudioDuration, "audio duration in seconds (30 to 300)")
	fs.IntVar(&cfg.Seed, "seed", sampler.Seed, "random seed (-1 means random)")
	fs.Float64Var(&cfg.GuidanceScale, "guidance-scale", sampler.GuidanceScale, "guidance scale (1 to 20)")
	fs.IntVar(&cfg.InferStep, "infer-step", sampler.InferStep, "inference steps (20 to 100)")
	fs.BoolVar(&cfg.Instrumental, "instrumental", sampler.Instrumental, "instrumental song")

	fs.StringVar(&cfg.Output, "output", "", "download the audio to this path")
	fs.BoolVar(&cfg.Play, "play", false, "play the song after generating it")
	fs.StringVar(&cfg.PlayerBin, "player-bin", "", "path to the ffplay binary")

	fs.StringVar(&cfg.DescriptionEndpoint, "description-endpoint", "", "override the description endpoint")
	fs.StringVar(&cfg.CustomLyricsEndpoint, "custom-lyrics-endpoint", "", "override the custom lyrics endpoint")
	fs.StringVar(&cfg.DescribedLyricsEndpoint, "described-lyrics-endpoint", "", "override the described lyrics endpoint")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("aika %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("AIKA"),
		},
		ShortHelp: "generate a song",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return generate.Run(ctx, cfg)
		},
	}
}

func newHistoryCommand() *ffcli.Command {
	cmd := "history"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &history.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (local, sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.Format, "format", "table", "output format (table, json, csv)")
	fs.StringVar(&cfg.Output, "output", "", "write the output to this path instead of stdout")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("aika %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("AIKA"),
		},
		ShortHelp: "list generated songs",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return history.Run(ctx, cfg)
		},
	}
}

func newDeleteCommand() *ffcli.Command {
	cmd := "delete"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &history.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (local, sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("aika %s [flags] <id>", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("AIKA"),
		},
		ShortHelp: "delete a song from the history",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("missing song id")
			}
			return history.Delete(ctx, cfg, args[0])
		},
	}
}

func newClearCommand() *ffcli.Command {
	cmd := "clear"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &history.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (local, sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("aika %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("AIKA"),
		},
		ShortHelp: "clear the whole history",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return history.Clear(ctx, cfg)
		},
	}
}

func newPlayCommand() *ffcli.Command {
	cmd := "play"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &play.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (local, sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.ID, "id", "", "song id (empty means the most recent song)")
	fs.Float64Var(&cfg.Volume, "volume", 0, "playback volume (0 means the default)")
	fs.StringVar(&cfg.PlayerBin, "player-bin", "", "path to the ffplay binary")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("aika %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("AIKA"),
		},
		ShortHelp: "play a song from the history",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return play.Run(ctx, cfg)
		},
	}
}

func newTestCommand() *ffcli.Command {
	cmd := "test"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &selftest.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.Proxy, "proxy", "", "proxy to use")
	fs.StringVar(&cfg.DescriptionEndpoint, "description-endpoint", "", "override the description endpoint")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("aika %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("AIKA"),
		},
		ShortHelp: "check that the generation service is reachable",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return selftest.Run(ctx, cfg)
		},
	}
}

func newWebCommand() *ffcli.Command {
	cmd := "web"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &web.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (local, sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.Proxy, "proxy", "", "proxy to use")
	fs.DurationVar(&cfg.Timeout, "timeout", 5*time.Minute, "generation timeout (0 means no timeout)")

	fs.StringVar(&cfg.Addr, "addr", ":1337", "address to listen on")
	fsMapVar(fs, &cfg.Credentials, "creds", nil, "credentials to use (semicolon separated) Example: user1:pass1;user2:pass2")

	fs.StringVar(&cfg.DescriptionEndpoint, "description-endpoint", "", "override the description endpoint")
	fs.StringVar(&cfg.CustomLyricsEndpoint, "custom-lyrics-endpoint", "", "override the custom lyrics endpoint")
	fs.StringVar(&cfg.DescribedLyricsEndpoint, "described-lyrics-endpoint", "", "override the described lyrics endpoint")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("aika %s [flags]", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("AIKA"),
		},
		ShortHelp: "serve the web player",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return web.Serve(ctx, cfg)
		},
	}
}

type mapValue struct {
	v *map[string]string
}

func (m *mapValue) String() string {
	if m.v == nil {
		return ""
	}
	return fmt.Sprintf("%v", map[string]string(*m.v))
}

func (m *mapValue) Set(value string) error {
	if m.v == nil {
		return errors.New("nil map reference")
	}
	pairs := strings.Split(value, ";")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid map entry: %s", pair)
		}
		(*m.v)[parts[0]] = parts[1]
	}
	return nil
}

func fsMapVar(fs *flag.FlagSet, p *map[string]string, name string, value map[string]string, usage string) {
	if value == nil {
		value = make(map[string]string)
	}
	*p = value
	fs.Var(&mapValue{p}, name, usage)
}
