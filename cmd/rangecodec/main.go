// Command rangecodec compresses lidar frames into range image containers
// and reconstructs them.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/rangecodec/internal/codecerr"
	"github.com/banshee-data/rangecodec/internal/ground"
	"github.com/banshee-data/rangecodec/internal/pipeline"
	"github.com/banshee-data/rangecodec/internal/version"
)

// Exit codes.
const (
	exitOK = iota
	exitFailure
	exitConfig
	exitSymbolRange
	exitCorrupt
	exitDesync
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitFailure
	}

	command, rest := args[0], args[1:]
	var err error
	switch command {
	case "encode":
		err = handleEncode(rest, stdout, stderr)
	case "decode":
		err = handleDecode(rest, stdout, stderr)
	case "batch":
		err = handleBatch(rest, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version.String())
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return exitFailure
	}
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "rangecodec %s: %v\n", command, err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps the codec error taxonomy onto process exit codes.
func exitCode(err error) int {
	var (
		cfgErr     *codecerr.ConfigurationError
		rangeErr   *codecerr.SymbolRangeError
		corruptErr *codecerr.CorruptContainerError
		desyncErr  *codecerr.CodecDesyncError
	)
	switch {
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.As(err, &rangeErr):
		return exitSymbolRange
	case errors.As(err, &corruptErr):
		return exitCorrupt
	case errors.As(err, &desyncErr):
		return exitDesync
	}
	return exitFailure
}

// configureLogging sends ops logs to stderr always, diag with -v and trace
// with -vv.
func configureLogging(stderr io.Writer, verbose, veryVerbose bool) {
	var diag, trace io.Writer
	if verbose || veryVerbose {
		diag = stderr
	}
	if veryVerbose {
		trace = stderr
	}
	pipeline.SetLogWriters(stderr, diag, trace)
	ground.SetLogWriters(stderr, diag, trace)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `rangecodec - lidar point cloud compression through range images

Usage: rangecodec <command> [options]

Commands:
  encode    Compress one point cloud into a container
  decode    Reconstruct a point cloud from a container
  batch     Compress a list of point clouds with a bounded worker pool
  version   Show build information
  help      Show this help message

Common Flags:
  -lidar <file>     Sensor description (YAML)
  -ckpt <file>      Model checkpoint (JSON)
  -config <file>    Codec tuning (JSON, defaults apply to omitted keys)
  -v, -vv           Diagnostic and trace logging to stderr

Examples:
  rangecodec encode -lidar config/vlp64_kitti.yaml -ckpt config/laplace.ckpt.json -p 000000.bin -o 000000.ric
  rangecodec decode -lidar config/vlp64_kitti.yaml -ckpt config/laplace.ckpt.json -b 000000.ric -original 000000.bin
  rangecodec batch -lidar config/vlp64_kitti.yaml -ckpt config/laplace.ckpt.json -list frames.txt -out out/ -db runs.db

Exit status: 0 success, 1 other failure, 2 configuration, 3 symbol range,
4 corrupt container, 5 codec desync.
`)
}
