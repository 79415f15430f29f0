package logger

import "go.uber.org/zap"

// Segment symbols tag log lines with the pipeline stage that produced them,
// so "symbol=꩜" finds every queue/worker line regardless of component name.
const (
	SymPulse      = "꩜" // queue, workers, retries
	SymPulseOpen  = "✿" // graceful startup
	SymPulseClose = "❀" // graceful shutdown
	SymIngest     = "⨳" // events, pulls, idempotency gate
	SymDB         = "⊔" // storage and migrations
	SymLink       = "⋈" // linkage validation
)

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymPulse)
}

// AddPulseOpenSymbol wraps a logger with the PulseOpen symbol (✿)
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymPulseOpen)
}

// AddPulseCloseSymbol wraps a logger with the PulseClose symbol (❀)
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymPulseClose)
}

// AddIngestSymbol wraps a logger with the ingest symbol (⨳)
func AddIngestSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymIngest)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymDB)
}

// AddLinkSymbol wraps a logger with the linkage symbol (⋈)
func AddLinkSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymLink)
}
