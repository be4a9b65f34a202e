package core

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storagehx/storage"
)

// checkConcurrency bounds how many disks check probes at once.
const checkConcurrency = 4

// ErrUsage is returned for malformed command lines.
var ErrUsage = errors.New("usage")

// Usage lists the commands understood by Commands.Run.
const Usage = `commands:
  ls [-r] [-json] <disk:path>
  cat <disk:path>
  put [-visibility public|private] <local-file|-> <disk:path>
  rm <disk:path>
  rmdir <disk:path>
  mkdir [-visibility public|private] <disk:path>
  mv <disk:path> <disk:path>
  cp <disk:path> <disk:path>
  stat <disk:path>
  chmod <public|private> <disk:path>
  check [disk...]`

// Commands runs one-shot operations against the configured disks.
type Commands struct {
	registry *Registry
	in       io.Reader
	out      io.Writer
	logger   *zap.Logger
}

func NewCommands(registry *Registry, in io.Reader, out io.Writer, logger *zap.Logger) *Commands {
	return &Commands{registry: registry, in: in, out: out, logger: logger}
}

// Run executes the command called name.
func (c *Commands) Run(ctx context.Context, name string, args []string) error {
	c.logger.Debug("running command", zap.String("command", name), zap.Strings("args", args))

	switch name {
	case "ls":
		return c.list(args)
	case "cat":
		return c.cat(args)
	case "put":
		return c.put(args)
	case "rm":
		return c.remove(args)
	case "rmdir":
		return c.removeDirectory(args)
	case "mkdir":
		return c.makeDirectory(args)
	case "mv":
		return c.transfer(args, true)
	case "cp":
		return c.transfer(args, false)
	case "stat":
		return c.stat(args)
	case "chmod":
		return c.chmod(args)
	case "check":
		return c.check(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, name)
	}
}

type location struct {
	disk *Disk
	path string
}

// resolve parses "disk:path".
func (c *Commands) resolve(arg string) (location, error) {
	name, p, ok := strings.Cut(arg, ":")
	if !ok || name == "" {
		return location{}, fmt.Errorf("%w: %q is not of the form disk:path", ErrUsage, arg)
	}
	disk, err := c.registry.Disk(name)
	if err != nil {
		return location{}, err
	}
	return location{disk: disk, path: p}, nil
}

func (c *Commands) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.out)
	return fs
}

func (c *Commands) parse(fs *flag.FlagSet, args []string, want int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != want {
		return nil, fmt.Errorf("%w: %s expects %d argument(s), got %d", ErrUsage, fs.Name(), want, fs.NArg())
	}
	return fs.Args(), nil
}

func (c *Commands) list(args []string) error {
	fs := c.flags("ls")
	recursive := fs.Bool("r", false, "list recursively")
	asJSON := fs.Bool("json", false, "print one JSON document per entry")
	rest, err := c.parse(fs, args, 1)
	if err != nil {
		return err
	}
	loc, err := c.resolve(rest[0])
	if err != nil {
		return err
	}

	if *asJSON {
		encoder := json.NewEncoder(c.out)
		for item, err := range loc.disk.Adapter.ListContents(loc.path, *recursive) {
			if err != nil {
				return err
			}
			if err := encoder.Encode(item); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for item, err := range loc.disk.Adapter.ListContents(loc.path, *recursive) {
		if err != nil {
			_ = w.Flush()
			return err
		}
		fmt.Fprintln(w, formatEntry(item))
	}
	return w.Flush()
}

func formatEntry(item storage.StorageAttributes) string {
	visibility := string(item.Visibility())
	if visibility == "" {
		visibility = "-"
	}

	size, modified := "-", "-"
	if file, ok := item.(*storage.FileAttributes); ok {
		if n, known := file.FileSize(); known {
			size = fmt.Sprint(n)
		}
		if ts, known := file.LastModified(); known {
			modified = time.Unix(ts, 0).UTC().Format(time.RFC3339)
		}
	}
	return strings.Join([]string{item.Type(), visibility, size, modified, item.Path()}, "\t")
}

func (c *Commands) cat(args []string) error {
	rest, err := c.parse(c.flags("cat"), args, 1)
	if err != nil {
		return err
	}
	loc, err := c.resolve(rest[0])
	if err != nil {
		return err
	}

	stream, err := loc.disk.Adapter.ReadStream(loc.path)
	if err != nil {
		return err
	}
	defer stream.Close()

	_, err = io.Copy(c.out, stream)
	return err
}

func visibilityOption(value string) (map[string]any, error) {
	if value == "" {
		return nil, nil
	}
	visibility, err := storage.ParseVisibility(value)
	if err != nil {
		return nil, err
	}
	return map[string]any{storage.OptionVisibility: visibility}, nil
}

func (c *Commands) put(args []string) error {
	fs := c.flags("put")
	visibility := fs.String("visibility", "", "visibility of the written file")
	rest, err := c.parse(fs, args, 2)
	if err != nil {
		return err
	}
	options, err := visibilityOption(*visibility)
	if err != nil {
		return err
	}
	loc, err := c.resolve(rest[1])
	if err != nil {
		return err
	}

	source := c.in
	if rest[0] != "-" {
		f, err := os.Open(rest[0])
		if err != nil {
			return err
		}
		defer f.Close()
		source = f
	}

	return loc.disk.Adapter.WriteStream(loc.path, source, loc.disk.Config(options))
}

func (c *Commands) remove(args []string) error {
	rest, err := c.parse(c.flags("rm"), args, 1)
	if err != nil {
		return err
	}
	loc, err := c.resolve(rest[0])
	if err != nil {
		return err
	}
	return loc.disk.Adapter.Delete(loc.path)
}

func (c *Commands) removeDirectory(args []string) error {
	rest, err := c.parse(c.flags("rmdir"), args, 1)
	if err != nil {
		return err
	}
	loc, err := c.resolve(rest[0])
	if err != nil {
		return err
	}
	return loc.disk.Adapter.DeleteDirectory(loc.path)
}

func (c *Commands) makeDirectory(args []string) error {
	fs := c.flags("mkdir")
	visibility := fs.String("visibility", "", "visibility of the created directories")
	rest, err := c.parse(fs, args, 1)
	if err != nil {
		return err
	}
	loc, err := c.resolve(rest[0])
	if err != nil {
		return err
	}

	var options map[string]any
	if *visibility != "" {
		v, err := storage.ParseVisibility(*visibility)
		if err != nil {
			return err
		}
		options = map[string]any{storage.OptionDirectoryVisibility: v}
	}
	return loc.disk.Adapter.CreateDirectory(loc.path, loc.disk.Config(options))
}

// transfer copies or moves a file. Within one disk the adapter does the work;
// across disks the file is streamed and keeps its visibility.
func (c *Commands) transfer(args []string, move bool) error {
	name := "cp"
	if move {
		name = "mv"
	}
	rest, err := c.parse(c.flags(name), args, 2)
	if err != nil {
		return err
	}
	src, err := c.resolve(rest[0])
	if err != nil {
		return err
	}
	dst, err := c.resolve(rest[1])
	if err != nil {
		return err
	}

	if src.disk == dst.disk {
		if move {
			return src.disk.Adapter.Move(src.path, dst.path, dst.disk.Config(nil))
		}
		return src.disk.Adapter.Copy(src.path, dst.path, dst.disk.Config(nil))
	}

	attributes, err := src.disk.Adapter.Visibility(src.path)
	if err != nil {
		return err
	}
	stream, err := src.disk.Adapter.ReadStream(src.path)
	if err != nil {
		return err
	}
	defer stream.Close()

	config := dst.disk.Config(map[string]any{storage.OptionVisibility: attributes.Visibility()})
	if err := dst.disk.Adapter.WriteStream(dst.path, stream, config); err != nil {
		return err
	}

	c.logger.Info("transferred file",
		zap.String("from", src.disk.Name+":"+src.path),
		zap.String("to", dst.disk.Name+":"+dst.path),
	)
	if move {
		return src.disk.Adapter.Delete(src.path)
	}
	return nil
}

func (c *Commands) stat(args []string) error {
	rest, err := c.parse(c.flags("stat"), args, 1)
	if err != nil {
		return err
	}
	loc, err := c.resolve(rest[0])
	if err != nil {
		return err
	}
	adapter := loc.disk.Adapter

	size, err := adapter.FileSize(loc.path)
	if err != nil {
		return err
	}
	modified, err := adapter.LastModified(loc.path)
	if err != nil {
		return err
	}
	visibility, err := adapter.Visibility(loc.path)
	if err != nil {
		return err
	}
	mimeType, err := adapter.MimeType(loc.path)
	if err != nil {
		return err
	}

	n, _ := size.FileSize()
	ts, _ := modified.LastModified()
	combined := storage.NewFileAttributes(loc.path,
		storage.WithFileSize(n),
		storage.WithLastModified(ts),
		storage.WithVisibility(visibility.Visibility()),
		storage.WithMimeType(mimeType.MimeType()),
	)
	return json.NewEncoder(c.out).Encode(combined)
}

func (c *Commands) chmod(args []string) error {
	rest, err := c.parse(c.flags("chmod"), args, 2)
	if err != nil {
		return err
	}
	visibility, err := storage.ParseVisibility(rest[0])
	if err != nil {
		return err
	}
	loc, err := c.resolve(rest[1])
	if err != nil {
		return err
	}
	return loc.disk.Adapter.SetVisibility(loc.path, visibility)
}

// check probes the named disks, or every disk, concurrently and reports all
// failures.
func (c *Commands) check(ctx context.Context, args []string) error {
	names := args
	if len(names) == 0 {
		names = c.registry.Names()
	}

	disks := make([]*Disk, 0, len(names))
	for _, name := range names {
		disk, err := c.registry.Disk(name)
		if err != nil {
			return err
		}
		disks = append(disks, disk)
	}

	results := make([]error, len(disks))
	durations := make([]time.Duration, len(disks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(checkConcurrency)
	for i, disk := range disks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = err
				return nil
			}
			start := time.Now()
			results[i] = disk.Probe()
			durations[i] = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()

	var result *multierror.Error
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for i, disk := range disks {
		if results[i] != nil {
			fmt.Fprintf(w, "%s\tFAIL\t%v\n", disk.Name, results[i])
			result = multierror.Append(result, fmt.Errorf("disk %q: %w", disk.Name, results[i]))
			continue
		}
		fmt.Fprintf(w, "%s\tok\t%s\n", disk.Name, durations[i].Round(time.Millisecond))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return result.ErrorOrNil()
}
