// Package zerowire converts columnar batches into protobuf wire records and
// streams them to an ingest service, isolating failures to the rows that
// caused them.
//
// # Architecture
//
// A batch travels through a fixed sequence of stages:
//
//  1. The schema is flattened into a proto2 descriptor (pkg/schema). Schemas
//     that exceed the field limit or use unsupported types are rejected
//     before any row is touched.
//  2. Every row is encoded independently (pkg/convert). A row that cannot be
//     encoded is reported and the rest of the batch continues.
//  3. Encoded rows are sent over one shared stream (pkg/transmit). A failed
//     open is batch-level; a rejected row is row-level.
//  4. Retryable failures are retried with full-jitter exponential backoff
//     (pkg/retry), either the whole batch when the stream never opened or
//     only the failed subset otherwise.
//  5. Outcomes are merged into a TransmissionResult (pkg/result).
//
// Optionally every batch is mirrored to rotating debug files (pkg/debugsink):
// the input as an Arrow IPC stream and the encoded rows as length-delimited
// protobuf, each with its own retention limit.
//
// # Quick Start
//
//	cfg := config.DefaultConfig("main.default.events")
//	cfg.Endpoint = "ingest.example.com:443"
//
//	rs, err := grpcsink.Dial(cfg.Endpoint, grpcsink.Options{}, nil)
//	if err != nil {
//	    return err
//	}
//	auth := oauth.NewProvider(oauth.Config{
//	    ClientID:     os.Getenv("CLIENT_ID"),
//	    ClientSecret: os.Getenv("CLIENT_SECRET"),
//	    TokenURL:     "https://auth.example.com/oauth2/token",
//	}, nil)
//
//	w, err := wrapper.New(cfg, rs, auth)
//	if err != nil {
//	    return err
//	}
//	defer w.Close(ctx)
//
//	res, err := w.SendBatch(ctx, b)
//
// # Configuration
//
// Configuration is loaded from YAML with environment overrides prefixed
// ZEROWIRE_ (see pkg/config). The command line tool in cmd/zerowire sends
// Arrow IPC files, prints derived descriptors and dumps debug files.
package zerowire
