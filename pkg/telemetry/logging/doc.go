// Package logging configures the process-wide slog logger.
//
// # Overview
//
// New builds a *slog.Logger from config.LoggingConfig:
//   - json and text formats use the standard slog handlers
//   - console format prints one colored line per record for terminals
//   - a redacting handler masks API keys and bearer tokens
//   - a context handler adds query, provider and trace fields from the
//     context passed to the *Context logging methods
//
// Packages log through slog.Default() with a "component" attribute, so the
// composition root only has to install the logger once:
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stderr)
//	if err != nil {
//		return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithQueryID(ctx, id)
//	slog.InfoContext(ctx, "query started") // includes query_id
//
// # Redaction
//
// Values of attributes whose key looks sensitive (api_key, token, secret,
// authorization, password) are masked to a four character prefix. String
// values are also scanned for key-shaped substrings:
//
//   - sk-abc123xyz      → sk-***
//   - Bearer abc.def    → Bearer ***
//   - AIzaSyD...        → AIza***
package logging
