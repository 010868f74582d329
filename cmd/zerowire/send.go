package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/config"
	"github.com/ajitpratap0/zerowire/pkg/json"
	"github.com/ajitpratap0/zerowire/pkg/logger"
	"github.com/ajitpratap0/zerowire/pkg/observability"
	"github.com/ajitpratap0/zerowire/pkg/result"
	"github.com/ajitpratap0/zerowire/pkg/sink"
	"github.com/ajitpratap0/zerowire/pkg/sink/grpcsink"
	"github.com/ajitpratap0/zerowire/pkg/sink/oauth"
	"github.com/ajitpratap0/zerowire/pkg/wrapper"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// TokenEnv holds a static bearer token used when no OAuth2 client is
// configured.
const TokenEnv = "ZEROWIRE_TOKEN"

type sendOptions struct {
	configFile  string
	input       string
	table       string
	endpoint    string
	quarantine  string
	metricsAddr string
	batchSize   int
	timeout     time.Duration
}

// sendSummary is printed as JSON when the send completes.
type sendSummary struct {
	Batches    int            `json:"batches"`
	TotalRows  int            `json:"total_rows"`
	Successful int            `json:"successful_rows"`
	Failed     int            `json:"failed_rows"`
	Attempts   int            `json:"attempts"`
	Failures   map[string]int `json:"failures_by_kind,omitempty"`
	Duration   string         `json:"duration"`
}

func (s *sendSummary) add(res *result.TransmissionResult) {
	s.Batches++
	s.TotalRows += res.TotalRows
	s.Successful += res.SuccessfulCount
	s.Failed += res.FailedCount
	s.Attempts += res.Attempts
	for kind, n := range res.FailuresByKind() {
		if s.Failures == nil {
			s.Failures = make(map[string]int)
		}
		s.Failures[kind.String()] += n
	}
}

func newSendCommand() *cobra.Command {
	opts := sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an Arrow IPC stream to the ingest endpoint",
		Long: `Send reads record batches from an Arrow IPC stream file, converts every row
to the protobuf wire format and streams the records to the configured table.

Example:
  zerowire send --config zerowire.yaml --input events.arrows --quarantine failed.arrows`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runSend(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Path to Arrow IPC stream file (required)")
	cmd.Flags().StringVar(&opts.table, "table", "", "Destination table, overrides the configuration")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "Ingest endpoint host:port, overrides the configuration")
	cmd.Flags().StringVar(&opts.quarantine, "quarantine", "", "Write rows that failed to this Arrow IPC file")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while sending")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Split input record batches into batches of at most this many rows (0 keeps them)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "Overall timeout")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runSend(ctx context.Context, cmd *cobra.Command, opts sendOptions) error {
	overrides := map[string]any{}
	if opts.table != "" {
		overrides["table"] = opts.table
	}
	if opts.endpoint != "" {
		overrides["endpoint"] = opts.endpoint
	}
	cfg, err := config.LoadWithOverrides(opts.configFile, overrides)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if cfg.Endpoint == "" {
		return errors.New("configuration error: endpoint is required")
	}

	if err := logger.Init(logger.Config{Level: cfg.Observability.LogLevel}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("component", "zerowire-cli"), zap.String("table", cfg.Table))

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig()
		tc.ServiceName = cfg.Observability.ServiceName
		tc.ServiceVersion = version
		if _, err := observability.Initialize(tc); err != nil {
			return err
		}
		defer func() {
			if err := observability.Shutdown(context.Background()); err != nil {
				log.Warn("failed to shutdown tracing", zap.Error(err))
			}
		}()
	}

	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	rs, err := grpcsink.Dial(cfg.Endpoint, grpcsink.Options{Insecure: cfg.Security.Insecure}, log)
	if err != nil {
		return err
	}
	defer func() { _ = rs.Close() }()

	w, err := wrapper.New(cfg, rs, authProvider(cfg, log), wrapper.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(context.Background()); err != nil {
			log.Warn("failed to close wrapper", zap.Error(err))
		}
	}()

	f, err := os.Open(opts.input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	rdr, err := ipc.NewReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return fmt.Errorf("failed to read Arrow IPC stream %s: %w", opts.input, err)
	}
	defer rdr.Release()

	q := &quarantineWriter{path: opts.quarantine}
	defer func() {
		if err := q.Close(); err != nil {
			log.Warn("failed to close quarantine file", zap.Error(err))
		}
	}()

	start := time.Now()
	summary := &sendSummary{}
	for rdr.Next() {
		b, err := batch.FromRecord(rdr.Record())
		if err != nil {
			return err
		}
		for _, chunk := range split(b, opts.batchSize) {
			res, err := w.SendBatch(ctx, chunk)
			if err != nil {
				return err
			}
			summary.add(res)
			if res.FailedCount > 0 {
				_, failed := result.SplitBatch(chunk, res)
				if err := q.Write(failed); err != nil {
					return err
				}
			}
		}
	}
	if err := rdr.Err(); err != nil {
		return fmt.Errorf("failed to read Arrow IPC stream %s: %w", opts.input, err)
	}
	summary.Duration = time.Since(start).String()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return err
	}
	if summary.TotalRows > 0 && summary.Successful == 0 {
		return errors.New("no rows were transmitted")
	}
	return nil
}

func authProvider(cfg *config.Config, log *zap.Logger) sink.AuthProvider {
	if cfg.Security.HasCredentials() {
		return oauth.NewProvider(oauth.Config{
			ClientID:         cfg.Security.ClientID,
			ClientSecret:     cfg.Security.ClientSecret,
			TokenURL:         cfg.Security.TokenURL,
			Scopes:           cfg.Security.Scopes,
			RefreshThreshold: cfg.Security.RefreshThreshold,
		}, log)
	}
	return sink.StaticAuth{AccessToken: os.Getenv(TokenEnv)}
}

// split cuts b into consecutive batches of at most size rows.
func split(b *batch.Batch, size int) []*batch.Batch {
	n := b.NumRows()
	if size <= 0 || n <= size {
		return []*batch.Batch{b}
	}
	var out []*batch.Batch
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		idx := make([]int, 0, hi-lo)
		for i := lo; i < hi; i++ {
			idx = append(idx, i)
		}
		out = append(out, b.Select(idx))
	}
	return out
}

// quarantineWriter appends failed rows to an Arrow IPC stream file, opened
// on first use. Schema changes are not supported within one file.
type quarantineWriter struct {
	path   string
	file   *os.File
	writer *ipc.Writer
}

func (q *quarantineWriter) Write(b *batch.Batch) error {
	if q.path == "" || b.NumRows() == 0 {
		return nil
	}
	if q.writer == nil {
		f, err := os.Create(q.path)
		if err != nil {
			return fmt.Errorf("failed to create quarantine file: %w", err)
		}
		q.file = f
		q.writer = ipc.NewWriter(f, ipc.WithSchema(batch.ArrowSchema(b.Schema)))
	}
	rec, _ := batch.ToRecord(b, memory.DefaultAllocator)
	defer rec.Release()
	return q.writer.Write(rec)
}

func (q *quarantineWriter) Close() error {
	if q.writer == nil {
		return nil
	}
	err := q.writer.Close()
	if cerr := q.file.Close(); err == nil {
		err = cerr
	}
	return err
}
