// Package logging sets up log/slog for every edgerelay command.
//
// Call Initialize once, then take a logger per module:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"dispatch": "debug"},
//	})
//	logger := logging.GetLogger("dispatch")
//	logger.Debug("Frame dropped", "seq", seq)
//
// Loggers returned before Initialize are kept and pick up their level once it
// runs. SetModuleLevel changes a module at runtime; an empty level returns it
// to the global one. The capture command calls it on config reload.
//
// Records go to stdout (text or json) and, when journald is reachable, to the
// journal under SYSLOG_IDENTIFIER=edgerelay with attributes as upper-case
// fields. Under systemd, where stdout already feeds the journal, only the
// journal handler is used:
//
//	journalctl -t edgerelay -p warning
//	journalctl -t edgerelay MODULE=upload
//
// Every record is also kept in a ring buffer (GET /api/logs) and passed to
// the LogCallback, which the api package uses for GET /api/logs/stream.
//
// Module levels in the config file sit next to the global keys:
//
//	[logging]
//	level = "info"
//	format = "json"
//	capture = "debug"
//	upload = "warn"
package logging
