package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

const gormQueryMessage = "gorm.query"

// GormLoggerConfig configures the GORM zap logger.
//
// TableSlowThresholds overrides SlowThreshold for statements whose primary
// table is listed. Balance and journal writes sit inside the export charge
// path, so they get a tighter budget than the rest of the schema.
type GormLoggerConfig struct {
	Level                gormlogger.LogLevel
	SlowThreshold        time.Duration
	TableSlowThresholds  map[string]time.Duration
	IgnoreRecordNotFound bool
}

// DefaultGormLoggerConfig does not log not-found lookups; ownership checks
// and idempotency checks hit them on every request.
func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 200 * time.Millisecond,
		TableSlowThresholds: map[string]time.Duration{
			"accounts":                 100 * time.Millisecond,
			"token_transactions":       100 * time.Millisecond,
			"processed_payment_events": 100 * time.Millisecond,
		},
		IgnoreRecordNotFound: true,
	}
}

// GormLogger routes GORM output through the request-scoped zap logger so SQL
// lines carry the request and account ids.
type GormLogger struct {
	cfg GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	thresholds := make(map[string]time.Duration, len(cfg.TableSlowThresholds))
	for table, d := range cfg.TableSlowThresholds {
		thresholds[strings.ToLower(table)] = d
	}
	cfg.TableSlowThresholds = thresholds
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, msg, data)
}

func (l *GormLogger) message(ctx context.Context, level gormlogger.LogLevel, msg string, data []interface{}) {
	if l.cfg.Level < level {
		return
	}
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	FromContext(ctx).Check(zapLevel(level), msg).Write(fields...)
}

// Trace emits one line per statement: errors always, slow statements at warn,
// everything else only in Info mode.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	if err != nil && l.cfg.Level >= gormlogger.Error {
		if !errors.Is(err, gormlogger.ErrRecordNotFound) || !l.cfg.IgnoreRecordNotFound {
			l.query(ctx, fc, elapsed, err)
			return
		}
	}
	if l.cfg.Level < gormlogger.Warn {
		return
	}

	sql, rows := fc()
	stmt := describeSQL(sql)
	if threshold := l.slowThreshold(stmt.table); threshold > 0 && elapsed > threshold {
		l.write(ctx, zapcore.WarnLevel, sql, rows, stmt, elapsed, nil, true)
		return
	}
	if l.cfg.Level >= gormlogger.Info {
		l.write(ctx, zapcore.DebugLevel, sql, rows, stmt, elapsed, nil, false)
	}
}

// ParamsFilter strips bound values; password hashes and reset token hashes
// travel through bound parameters.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) slowThreshold(table string) time.Duration {
	if d, ok := l.cfg.TableSlowThresholds[table]; ok {
		return d
	}
	return l.cfg.SlowThreshold
}

func (l *GormLogger) query(ctx context.Context, fc func() (string, int64), elapsed time.Duration, err error) {
	sql, rows := fc()
	l.write(ctx, zapcore.ErrorLevel, sql, rows, describeSQL(sql), elapsed, err, false)
}

func (l *GormLogger) write(ctx context.Context, level zapcore.Level, sql string, rows int64, stmt statement, elapsed time.Duration, err error, slow bool) {
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", stmt.operation),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if stmt.table != "" {
		fields = append(fields, zap.String("table", stmt.table))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if slow {
		fields = append(fields, zap.Bool("slow", true))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	FromContext(ctx).Check(level, gormQueryMessage).Write(fields...)
}

func zapLevel(level gormlogger.LogLevel) zapcore.Level {
	switch level {
	case gormlogger.Error:
		return zapcore.ErrorLevel
	case gormlogger.Warn:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

type statement struct {
	operation string
	table     string
}

// describeSQL finds the leading DML verb, skipping CTE prologues, and the
// table it targets.
func describeSQL(sql string) statement {
	tokens := strings.Fields(strings.TrimSpace(sql))
	stmt := statement{operation: "UNKNOWN"}
	start := -1
	for i, token := range tokens {
		word := strings.ToUpper(strings.Trim(token, "();"))
		switch word {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
			stmt.operation = word
			start = i
		}
		if start >= 0 {
			break
		}
	}
	if start < 0 {
		return stmt
	}

	var marker string
	switch stmt.operation {
	case "SELECT", "DELETE":
		marker = "FROM"
	case "INSERT", "MERGE":
		marker = "INTO"
	case "UPDATE":
		if start+1 < len(tokens) {
			stmt.table = tableName(tokens[start+1])
		}
		return stmt
	}
	for i := start + 1; i+1 < len(tokens); i++ {
		if strings.EqualFold(tokens[i], marker) {
			stmt.table = tableName(tokens[i+1])
			break
		}
	}
	return stmt
}

func operationFromSQL(sql string) string {
	return describeSQL(sql).operation
}

func tableName(token string) string {
	token = strings.Trim(token, "();,")
	if idx := strings.LastIndex(token, "."); idx >= 0 {
		token = token[idx+1:]
	}
	return strings.ToLower(strings.Trim(token, "\"`"))
}

var _ gormlogger.Interface = (*GormLogger)(nil)
