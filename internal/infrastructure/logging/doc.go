// Package logging wraps zap for the visualization host.
//
// Production builds log JSON; development builds log colored console output
// at debug level. Components take a *Logger, scope it with Named, and fall back
// to a no-op logger through OrNop so tests can pass nil.
//
//	log := logging.NewDefault().Named("pipeline")
//	log.Info("pass settled", zap.Uint64("seq", 7), zap.String("status", "succeeded"))
package logging
