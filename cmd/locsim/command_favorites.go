package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"locsim/internal/types"
)

type FavoritesCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewFavoritesCommand(stdout, stderr io.Writer, newClient clientFactory) *FavoritesCommand {
	return &FavoritesCommand{stdout: stdout, stderr: stderr, newClient: newClient}
}

// Run dispatches list (the default), add, rename, delete and import.
func (c *FavoritesCommand) Run(args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list", "ls":
		return c.list(args)
	case "add":
		return c.add(args)
	case "rename":
		return c.rename(args)
	case "delete", "rm":
		return c.remove(args)
	case "import":
		return c.importFile(args)
	default:
		return fmt.Errorf("unknown favorites command %q (expected list, add, rename, delete or import)", sub)
	}
}

func (c *FavoritesCommand) list(args []string) error {
	fs := pflag.NewFlagSet("favorites list", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	asJSON := fs.Bool("json", false, "print favorites as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	favorites, err := client.Favorites(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		if favorites == nil {
			favorites = []types.Favorite{}
		}
		return printJSON(c.stdout, favorites)
	}
	printFavorites(c.stdout, favorites)
	return nil
}

// add accepts either --lat/--lon or a "lat,lon" argument. Use "--" before a
// negative latitude.
func (c *FavoritesCommand) add(args []string) error {
	fs := pflag.NewFlagSet("favorites add", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	lat := fs.String("lat", "", "latitude in degrees")
	lon := fs.String("lon", "", "longitude in degrees")
	name := fs.String("name", "", "display name (defaults to the coordinates)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var coord types.Coordinate
	switch {
	case *lat != "" || *lon != "":
		latitude, err := strconv.ParseFloat(*lat, 64)
		if err != nil {
			return fmt.Errorf("invalid --lat %q", *lat)
		}
		longitude, err := strconv.ParseFloat(*lon, 64)
		if err != nil {
			return fmt.Errorf("invalid --lon %q", *lon)
		}
		coord = types.Coordinate{Latitude: latitude, Longitude: longitude}
		if err := coord.Validate(); err != nil {
			return err
		}
	case fs.NArg() >= 1:
		var err error
		coord, err = parseCoordinate(fs.Arg(0))
		if err != nil {
			return err
		}
	default:
		return errors.New("favorites add requires --lat and --lon, or a lat,lon argument")
	}

	ctx := context.Background()
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	favorite, err := client.AddFavorite(ctx, coord, *name)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "added %s (%s)\n", favorite.Name, formatCoordinate(favorite.Coordinate()))
	return nil
}

func (c *FavoritesCommand) rename(args []string) error {
	fs := pflag.NewFlagSet("favorites rename", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("favorites rename requires an index and a name")
	}
	index, err := parseFavoriteIndex(fs.Arg(0))
	if err != nil {
		return err
	}
	name := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	if name == "" {
		return errors.New("favorite name cannot be empty")
	}

	ctx := context.Background()
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	favorite, err := client.RenameFavorite(ctx, index, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "renamed %d to %s\n", index, favorite.Name)
	return nil
}

func (c *FavoritesCommand) remove(args []string) error {
	fs := pflag.NewFlagSet("favorites delete", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("favorites delete requires an index")
	}
	index, err := parseFavoriteIndex(fs.Arg(0))
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := client.DeleteFavorite(ctx, index); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "ok")
	return nil
}

// importFile reads a local "lat,lon,name" file and sends its text, so the
// daemon never needs access to the caller's filesystem.
func (c *FavoritesCommand) importFile(args []string) error {
	fs := pflag.NewFlagSet("favorites import", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("favorites import requires a file path")
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	count, err := client.ImportFavorites(ctx, string(data))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "imported %d favorites\n", count)
	return nil
}

func (c *FavoritesCommand) connect(ctx context.Context) (commandClient, error) {
	client, err := c.newClient()
	if err != nil {
		return nil, err
	}
	if err := client.EnsureDaemon(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func parseFavoriteIndex(raw string) (int, error) {
	index, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || index < 0 {
		return 0, fmt.Errorf("invalid favorite index %q", raw)
	}
	return index, nil
}

func printFavorites(output io.Writer, favorites []types.Favorite) {
	writer := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tNAME\tLOCATION")
	for i, favorite := range favorites {
		fmt.Fprintf(writer, "%d\t%s\t%s\n", i, favorite.Name, formatCoordinate(favorite.Coordinate()))
	}
	_ = writer.Flush()
}
