package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/adpipe/internal/config"
	"github.com/dmitrijs2005/adpipe/internal/flagx"
	"github.com/dmitrijs2005/adpipe/internal/logging"
	"github.com/dmitrijs2005/adpipe/internal/provision"
	"github.com/dmitrijs2005/adpipe/internal/upload"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitPartial = 2
	ExitUsage   = 64
)

const usage = `usage: adpipe <command> [flags]

commands:
  provision -direction <id> -creatives <id,id,...> [-status ACTIVE|PAUSED] [-name-prefix <text>]
  upload    -file <path> | -s3-key <key> [-image]
  migrate   apply database migrations
  cache     list cached media of the ad account

Configuration flags (-c <file>, -token, -account, -d, ...) may be given with any command.
`

// Run executes one command line and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := firstPositional(args)
	if cmd == "" || cmd == "help" {
		fmt.Fprint(stderr, usage)
		return ExitUsage
	}

	cfg, err := config.LoadConfig(args)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return ExitUsage
	}
	logger := logging.NewJSONLogger(stderr, cfg.LogLevel)

	switch cmd {
	case "provision", "upload":
		if cfg.AccessToken == "" {
			if cfg.AccessToken, err = PromptToken(stderr); err != nil {
				fmt.Fprintf(stderr, "%v\n", err)
				return ExitUsage
			}
		}
	case "migrate", "cache":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return ExitUsage
	}

	a, err := NewApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return ExitError
	}
	defer a.Close()

	switch cmd {
	case "provision":
		return a.runProvision(ctx, args, stdout, stderr)
	case "upload":
		return a.runUpload(ctx, args, stdout, stderr)
	case "migrate":
		if err := a.Migrate(ctx); err != nil {
			fmt.Fprintf(stderr, "migrate: %v\n", err)
			return ExitError
		}
		fmt.Fprintln(stdout, "migrations applied")
		return ExitOK
	default:
		return a.runCache(ctx, stdout, stderr)
	}
}

// firstPositional returns the first argument that is neither a flag nor the
// value of a config file flag.
func firstPositional(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			return a
		}
		if !strings.Contains(a, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(a) {
			i++
		}
	}
	return ""
}

func isBoolFlag(name string) bool {
	switch name {
	case "-dry-run", "-s3-path-style", "-image":
		return true
	}
	return false
}

func commandFlags(name string, args []string, owned []string, bools ...string) (*flag.FlagSet, []string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs, flagx.FilterArgs(args, owned, bools...)
}

func (app *App) runProvision(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, filtered := commandFlags("provision", args, []string{"-direction", "-creatives", "-status", "-name-prefix"})
	direction := fs.String("direction", "", "direction id")
	creatives := fs.String("creatives", "", "comma separated creative ids")
	status := fs.String("status", "", "ad status")
	prefix := fs.String("name-prefix", "", "ad set and ad name prefix")
	if err := fs.Parse(filtered); err != nil {
		fmt.Fprintf(stderr, "provision: %v\n", err)
		return ExitUsage
	}

	var ids []string
	for _, id := range strings.Split(*creatives, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	res, err := app.Provision(ctx, provision.Request{
		DirectionID: *direction,
		CreativeIDs: ids,
		AdStatus:    strings.ToUpper(*status),
		NamePrefix:  *prefix,
	})
	if res != nil {
		printResult(stdout, res)
	}
	if err != nil {
		fmt.Fprintf(stderr, "provision: %v\n", err)
		return ExitError
	}
	if !res.FullySucceeded() {
		return ExitPartial
	}
	return ExitOK
}

func printResult(w io.Writer, res *provision.Result) {
	fmt.Fprintf(w, "campaign %s, ad set %s (%s)\n", res.CampaignID, res.AdSetID, res.AdSetMode)
	for _, ad := range res.CreatedAds {
		fmt.Fprintf(w, "  ad %s <- creative %s (%s)\n", ad.AdID, ad.CreativeID, ad.RemoteCreativeID)
	}
	for _, f := range res.FailedCreatives {
		note := ""
		if f.RateLimited {
			note = " [rate limited]"
		}
		fmt.Fprintf(w, "  failed %s at %s%s: %v\n", f.CreativeID, f.Stage, note, f.Err)
	}
	fmt.Fprintln(w, res.Summary)
}

func (app *App) runUpload(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, filtered := commandFlags("upload", args, []string{"-file", "-s3-key", "-image"}, "-image")
	file := fs.String("file", "", "local file")
	key := fs.String("s3-key", "", "object key in the configured bucket")
	image := fs.Bool("image", false, "upload as image")
	if err := fs.Parse(filtered); err != nil {
		fmt.Fprintf(stderr, "upload: %v\n", err)
		return ExitUsage
	}

	var (
		src upload.ChunkSource
		err error
	)
	switch {
	case *file != "" && *key != "":
		err = errors.New("use either -file or -s3-key")
	case *file != "":
		src, err = upload.NewFileSource(*file)
	case *key != "":
		if app.config.S3Bucket == "" {
			err = errors.New("-s3-key needs -s3-bucket")
			break
		}
		src, err = app.Resolve(ctx, *key)
	default:
		err = errors.New("-file or -s3-key is required")
	}
	if err != nil {
		fmt.Fprintf(stderr, "upload: %v\n", err)
		return ExitUsage
	}

	asset, err := app.Upload(ctx, src, *image)
	if err != nil {
		fmt.Fprintf(stderr, "upload: %v\n", err)
		return ExitError
	}
	fmt.Fprintf(stdout, "%s %s hash=%s thumbnail=%s\n", asset.Kind, asset.ID, asset.Hash, asset.ThumbnailURL)
	return ExitOK
}

func (app *App) runCache(ctx context.Context, stdout, stderr io.Writer) int {
	entries, err := app.CachedMedia(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "cache: %v\n", err)
		return ExitError
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Asset.Kind, e.Asset.ID, e.Fingerprint)
	}
	return ExitOK
}
