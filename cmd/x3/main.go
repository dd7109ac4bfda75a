// Command x3 encodes WAV files to x3 archives and decodes x3 archives
// back to WAV, inferring the direction from each input's extension.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/simonwerner/x3archive/archive"
	"github.com/simonwerner/x3archive/config"
	"github.com/simonwerner/x3archive/telemetry"
	"github.com/simonwerner/x3archive/wav"
	"github.com/simonwerner/x3archive/x3"
)

const version = "v1.0.0"

// Exit codes, per the CLI surface this command implements.
const (
	exitOK                = 0
	exitIOError           = 1
	exitUnsupportedFormat = 2
	exitCorruptArchive    = 3
	exitUsageError        = 4
)

func main() {
	var (
		inputs     = pflag.StringArrayP("input", "i", nil, "input file (repeatable); role inferred from extension")
		output     = pflag.StringP("output", "o", "", "output file (single-input mode only)")
		configPath = pflag.String("config", "", "YAML configuration file")
		mqttURL    = pflag.String("mqtt", "", "MQTT broker URL for telemetry (overrides config)")
		quiet      = pflag.BoolP("quiet", "q", false, "suppress progress logging")
		showVer    = pflag.BoolP("version", "v", false, "print version and exit")
	)
	pflag.Parse()

	if *showVer {
		fmt.Printf("x3 %s\n", version)
		os.Exit(exitOK)
	}
	if *quiet {
		log.SetOutput(os.Stderr)
	}

	if len(*inputs) == 0 {
		log.Println("at least one --input is required")
		os.Exit(exitUsageError)
	}
	if *output != "" && len(*inputs) > 1 {
		log.Println("--output cannot be combined with multiple --input values")
		os.Exit(exitUsageError)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Printf("loading config: %v", err)
			os.Exit(exitUsageError)
		}
		cfg = loaded
	}
	if *mqttURL != "" {
		cfg.MQTT.Enabled = true
		cfg.MQTT.BrokerURL = *mqttURL
	}

	pub, err := telemetry.NewPublisher(cfg.MQTT)
	if err != nil {
		log.Printf("starting telemetry publisher: %v", err)
		os.Exit(exitUsageError)
	}
	if pub != nil {
		defer pub.Close()
	}

	code := runBatch(*inputs, *output, cfg, pub, *quiet)
	os.Exit(code)
}

// runBatch processes every input concurrently, one goroutine each,
// with no limit on how many run at once: each goroutine owns its own
// Parameters-scoped encoder/decoder state, so no core codec state is
// shared across them.
func runBatch(inputs []string, singleOutput string, cfg *config.Config, pub *telemetry.Publisher, quiet bool) int {
	var g errgroup.Group
	codes := make([]int, len(inputs))

	for i, in := range inputs {
		i, in := i, in
		out := singleOutput
		if out == "" {
			out = defaultOutputPath(in)
		}
		g.Go(func() error {
			codes[i] = processOne(in, out, cfg, pub, quiet)
			return nil
		})
	}
	// processOne reports failure through codes, never through the
	// error g.Go returns, so g.Wait()'s result is always nil here.
	g.Wait()

	worst := exitOK
	for _, c := range codes {
		if c > worst {
			worst = c
		}
	}
	return worst
}

func defaultOutputPath(in string) string {
	ext := strings.ToLower(filepath.Ext(in))
	base := strings.TrimSuffix(in, filepath.Ext(in))
	switch ext {
	case ".wav":
		return base + ".x3a"
	case ".x3a":
		return base + ".wav"
	default:
		return base + ".out"
	}
}

func processOne(in, out string, cfg *config.Config, pub *telemetry.Publisher, quiet bool) int {
	ext := strings.ToLower(filepath.Ext(in))
	switch ext {
	case ".wav":
		return encodeOne(in, out, cfg, quiet)
	case ".x3a":
		return decodeOne(in, out, cfg, pub, quiet)
	default:
		log.Printf("%s: cannot infer encode/decode direction from extension %q", in, ext)
		return exitUnsupportedFormat
	}
}

func encodeOne(in, out string, cfg *config.Config, quiet bool) int {
	rate, samples, err := wav.Read(in)
	if err != nil {
		return exitCodeFor(err, exitIOError)
	}

	data, err := archive.EncodeBuffer(samples, cfg.Params(), uint32(rate))
	if err != nil {
		return exitCodeFor(err, exitUnsupportedFormat)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		log.Printf("%s: writing %s: %v", in, out, err)
		return exitIOError
	}
	if !quiet {
		log.Printf("%s -> %s (%d samples, %d bytes)", in, out, len(samples), len(data))
	}
	return exitOK
}

func decodeOne(in, out string, cfg *config.Config, pub *telemetry.Publisher, quiet bool) int {
	data, err := os.ReadFile(in)
	if err != nil {
		log.Printf("%s: %v", in, err)
		return exitIOError
	}

	samples, rate, corrupt, err := archive.DecodeBuffer(data)
	if err != nil {
		return exitCodeFor(err, exitCorruptArchive)
	}
	for _, c := range corrupt {
		if !quiet {
			log.Printf("%s: frame corrupt, skipped %d bits", in, c.SkippedBits)
		}
		if pub != nil {
			pub.PublishFrameCorrupt(in, 0, c.SkippedBits)
		}
	}

	w, err := wav.Create(out, int(rate))
	if err != nil {
		log.Printf("%s: creating %s: %v", in, out, err)
		return exitIOError
	}
	if err := w.WriteSamples(samples); err != nil {
		log.Printf("%s: writing samples to %s: %v", in, out, err)
		return exitIOError
	}
	if err := w.Close(); err != nil {
		log.Printf("%s: closing %s: %v", in, out, err)
		return exitIOError
	}

	if pub != nil {
		pub.PublishSummary(telemetry.ArchiveSummaryEvent{
			ArchiveID:         in,
			CorruptFrameCount: len(corrupt),
			SampleCount:       len(samples),
		})
	}
	if !quiet {
		log.Printf("%s -> %s (%d samples, %d corrupt frames)", in, out, len(samples), len(corrupt))
	}
	return exitOK
}

func exitCodeFor(err error, fallback int) int {
	kind, ok := x3.KindOf(err)
	if !ok {
		log.Println(err)
		return fallback
	}
	log.Println(err)
	switch kind {
	case x3.KindUnsupportedFormat:
		return exitUnsupportedFormat
	case x3.KindArchiveHeaderCorrupt, x3.KindFrameCorrupt, x3.KindCorruptBlock:
		return exitCorruptArchive
	default:
		return fallback
	}
}
