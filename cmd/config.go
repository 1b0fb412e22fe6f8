package cmd

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/spf13/viper"

	"mediabot/coordinator"
	"mediabot/engine"
	"mediabot/logging"
	"mediabot/metric"
	"mediabot/service"
	"mediabot/session"
)

// Subcommands.
const (
	CommandJoin  = "join"
	CommandServe = "serve"
)

// EnvPrefix prefixes every environment variable read as a default.
const EnvPrefix = "MEDIABOT"

// DefaultServer is the signaling server joined when no URL is given.
const DefaultServer = "wss://localhost:4443"

const idLength = 8

var (
	// ErrMissingCommand is returned when no subcommand is given.
	ErrMissingCommand = errors.New("missing command, expected join or serve")

	// ErrUnknownCommand is returned for a subcommand other than join or serve.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUnparsedArgs is returned when positional arguments are left over.
	ErrUnparsedArgs = errors.New("some args are not parsed")
)

// JoinConfig configures a single session started from the command line.
type JoinConfig struct {
	WSURL       string
	Server      string
	Room        string
	PeerID      string
	DisplayName string
	Budget      time.Duration
	ProduceData bool
}

// URI returns the signaling URL of the session.
func (c JoinConfig) URI() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	q := url.Values{}
	q.Set("roomId", c.Room)
	q.Set("peerId", c.PeerID)
	return strings.TrimSuffix(c.Server, "/") + "/?" + q.Encode()
}

// Session returns the session configuration of the join command.
func (c JoinConfig) Session() session.Config {
	return session.Config{
		URI:         c.URI(),
		DisplayName: c.DisplayName,
		Budget:      c.Budget,
		ProduceData: c.ProduceData,
	}
}

// Config is the configuration of one invocation.
type Config struct {
	Command     string
	Logging     logging.Config
	Join        JoinConfig
	Coordinator coordinator.Config
	Service     service.Config
	Metrics     metric.Config
}

// Validate validates the parts used by the command.
func (c Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	switch c.Command {
	case CommandJoin:
		if err := c.Join.Session().Validate(); err != nil {
			return err
		}
		return c.Coordinator.Engine.Validate()
	case CommandServe:
		if err := c.Service.Validate(); err != nil {
			return err
		}
		if err := c.Coordinator.Validate(); err != nil {
			return err
		}
		if c.Metrics.Port == 0 {
			return nil
		}
		return c.Metrics.Validate()
	default:
		return fmt.Errorf("%q: %w", c.Command, ErrUnknownCommand)
	}
}

// SetupConfig sets up and returns the configuration.
func SetupConfig(w io.Writer, args []string) (Config, error) {
	config, err := Parse(w, args)
	if err != nil {
		return config, err
	}
	if err = config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// environment returns a viper instance reading MEDIABOT_* variables on top of
// the built-in defaults.
func environment() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", logging.DefaultLevel)
	v.SetDefault("pretty", false)
	v.SetDefault("min-port", 0)
	v.SetDefault("max-port", 0)
	v.SetDefault("default-video", "")
	v.SetDefault("default-audio", "")
	v.SetDefault("record-to", "")

	v.SetDefault("server", DefaultServer)
	v.SetDefault("display-name", session.DefaultDisplayName)

	v.SetDefault("port", service.DefaultPort)
	v.SetDefault("debug", false)
	v.SetDefault("cert", "")
	v.SetDefault("key", "")
	v.SetDefault("token", "")
	v.SetDefault("grace", coordinator.DefaultGrace)
	v.SetDefault("default-budget", coordinator.DefaultBudget)
	v.SetDefault("callback-timeout", coordinator.DefaultCallbackTimeout)
	v.SetDefault("metrics-port", metric.DefaultMetricsPort)
	v.SetDefault("metrics-path", metric.DefaultMetricsPath)
	return v
}

// Parse parses the command line arguments. Flags override environment
// defaults.
func Parse(w io.Writer, args []string) (Config, error) {
	if len(args) == 0 {
		return Config{}, ErrMissingCommand
	}

	v := environment()
	con := Config{Command: args[0]}

	fs := flag.NewFlagSet("mediabot "+con.Command, flag.ContinueOnError)
	fs.SetOutput(w)
	fs.StringVar(&con.Logging.Level, "log-level", v.GetString("log-level"), "log level")
	fs.BoolVar(&con.Logging.Pretty, "pretty", v.GetBool("pretty"), "human friendly log output")
	minPort := fs.Uint("min-port", v.GetUint("min-port"), "lowest UDP port for ICE")
	maxPort := fs.Uint("max-port", v.GetUint("max-port"), "highest UDP port for ICE")
	fs.StringVar(&con.Coordinator.RecordDir, "record-to", v.GetString("record-to"), "directory receiving consumed tracks")

	switch con.Command {
	case CommandJoin:
		fs.StringVar(&con.Join.WSURL, "wsurl", v.GetString("wsurl"), "signaling websocket url")
		fs.StringVar(&con.Join.Server, "server", v.GetString("server"), "signaling server used when -wsurl is empty")
		fs.StringVar(&con.Coordinator.DefaultVideo, "video", v.GetString("default-video"), "IVF file to publish")
		fs.StringVar(&con.Coordinator.DefaultAudio, "audio", v.GetString("default-audio"), "OGG file to publish")
		fs.DurationVar(&con.Join.Budget, "budget", v.GetDuration("budget"), "session time budget, unlimited when zero")
		fs.StringVar(&con.Join.DisplayName, "display-name", v.GetString("display-name"), "display name announced on join")
		fs.BoolVar(&con.Join.ProduceData, "produce-data", v.GetBool("produce-data"), "open a data producer")
	case CommandServe:
		fs.IntVar(&con.Service.Port, "port", v.GetInt("port"), "listening port")
		fs.BoolVar(&con.Service.Debug, "debug", v.GetBool("debug"), "debug mode")
		fs.StringVar(&con.Service.KeyFile, "key", v.GetString("key"), "key file path")
		fs.StringVar(&con.Service.CertFile, "cert", v.GetString("cert"), "cert file path")
		fs.StringVar(&con.Service.Token, "token", v.GetString("token"), "bearer token required by the API")
		fs.StringVar(&con.Coordinator.DefaultVideo, "video", v.GetString("default-video"), "IVF file published by every job")
		fs.StringVar(&con.Coordinator.DefaultAudio, "audio", v.GetString("default-audio"), "OGG file published by every job")
		fs.DurationVar(&con.Coordinator.Grace, "grace", v.GetDuration("grace"), "added to the video duration to form the job budget")
		fs.DurationVar(&con.Coordinator.DefaultBudget, "default-budget", v.GetDuration("default-budget"), "job budget without a video")
		fs.DurationVar(&con.Coordinator.CallbackTimeout, "callback-timeout", v.GetDuration("callback-timeout"), "timeout of callback requests")
		fs.IntVar(&con.Metrics.Port, "metrics-port", v.GetInt("metrics-port"), "metrics port, disabled when zero")
		fs.StringVar(&con.Metrics.Path, "metrics-path", v.GetString("metrics-path"), "metrics path")
	default:
		return Config{}, fmt.Errorf("%q: %w", con.Command, ErrUnknownCommand)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return Config{}, fmt.Errorf("failed to parse args: %w", err)
	}
	if *minPort > math.MaxUint16 || *maxPort > math.MaxUint16 {
		return Config{}, fmt.Errorf("%d-%d: %w", *minPort, *maxPort, engine.ErrInvalidPortRange)
	}
	con.Coordinator.Engine = engine.Config{MinUDPPort: uint16(*minPort), MaxUDPPort: uint16(*maxPort)}

	if con.Command == CommandServe {
		if fs.NArg() != 0 {
			return Config{}, ErrUnparsedArgs
		}
		return con, nil
	}

	switch fs.NArg() {
	case 0:
		con.Join.Room = randomID()
	case 1:
		con.Join.Room = fs.Arg(0)
	default:
		return Config{}, ErrUnparsedArgs
	}
	con.Join.PeerID = randomID()
	return con, nil
}

func randomID() string {
	return strings.ToLower(shortuuid.New()[:idLength])
}
