package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/sessiongate/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool              `help:"Enable debug mode." env:"SESSIONGATE_DEBUG"`
		Version kong.VersionFlag  `help:"Print version and exit."`
		Config  kong.ConfigFlag   `help:"Load flag values from a YAML file."`
		Serve   commands.ServeCmd `cmd:"" help:"Start the session gateway"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("sessiongate"),
		kong.Description("Cookie session gateway in front of a bearer-token identity authority."),
		kong.Configuration(commands.YAML, "/etc/sessiongate/config.yaml", "~/.config/sessiongate/config.yaml"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
