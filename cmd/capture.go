package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecapture/internal/capture"
	"github.com/JakeFAU/sitecapture/internal/options"
)

type captureFlags struct {
	url  string
	out  string
	logo bool
	opts []string
}

func newCaptureCmd() *cobra.Command {
	var f captureFlags
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture a single page or logo to a file",
		Long: `Runs one capture through the same pipeline as the HTTP service and
writes the image bytes to --out ("-" for stdout). Capture options use the
query parameter names, for example --opt width=1024 --opt type=jpeg.`,
		Example: `  sitecapture capture --url https://example.com --out example.png
  sitecapture capture --url https://example.com --logo --out logo.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCapture(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "", "page to capture")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", `output file (default capture.<format>, "-" for stdout)`)
	cmd.Flags().BoolVar(&f.logo, "logo", false, "extract the site's logo instead of a screenshot")
	cmd.Flags().StringArrayVar(&f.opts, "opt", nil, "capture option as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runCapture(cmd *cobra.Command, f captureFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	raw, err := parseOptionPairs(f.opts)
	if err != nil {
		return err
	}
	raw[options.KeyURL] = f.url
	opts := options.Normalize(raw, a.cfg.Capture.DefaultTimeoutSeconds)

	st := newStack(a.cfg, a.logger)
	defer st.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		st.dispatcher.Run(ctx)
	}()

	var res capture.Result
	if f.logo {
		res = st.service.Logo(ctx, opts)
	} else {
		res = st.service.Capture(ctx, opts)
	}
	cancel()
	<-done

	if !res.OK() {
		return fmt.Errorf("capture %s: %s (status %d)", f.url, res.Message(), res.StatusCode())
	}

	out := f.out
	if out == "" {
		out = "capture." + string(res.Format())
	}
	if err := writeOutput(cmd.OutOrStdout(), out, res.Bytes()); err != nil {
		return err
	}
	a.logger.Info("capture written",
		zap.String("url", f.url),
		zap.String("engine", string(res.Engine())),
		zap.String("out", out),
		zap.Int("bytes", len(res.Bytes())),
	)
	return nil
}

// parseOptionPairs turns key=value flags into raw capture options. Later
// pairs override earlier ones.
func parseOptionPairs(pairs []string) (map[string]string, error) {
	raw := make(map[string]string, len(pairs)+1)
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --opt %q: want key=value", pair)
		}
		raw[key] = value
	}
	return raw, nil
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "-" {
		if _, err := stdout.Write(data); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
