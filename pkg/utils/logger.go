package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - конфигурация логгера
type LogConfig struct {
	// Level: debug, info, warn, error, fatal (по умолчанию info)
	Level string

	// Format: json или text (по умолчанию json)
	Format string

	// Output: путь к файлу; пусто = stderr
	Output string

	// Development включает stacktrace на warn и caller в каждой записи
	Development bool
}

// Logger - обёртка над zap с доменными помощниками
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// Field - алиас zap.Field; вызывающим не нужно импортировать zap напрямую
type Field = zap.Field

// parseLevel преобразует строковый уровень в zapcore.Level
// Неизвестные значения трактуются как info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger создаёт и настраивает логгер
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	// Вывод: файл либо stderr; при ошибке открытия файла - fallback на stderr
	var sink zapcore.WriteSyncer = zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}

	zl := zap.New(core, opts...)

	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// With возвращает новый логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// Доменные помощники для привязки контекста

// WithComponent помечает записи именем компонента (engine, api, venue...)
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithMarket помечает записи идентификатором площадки
func (l *Logger) WithMarket(marketID string) *Logger {
	return l.With(Market(marketID))
}

// WithWallet помечает записи кошельком
func (l *Logger) WithWallet(wallet string) *Logger {
	return l.With(Wallet(wallet))
}

// WithQueueID помечает записи идентификатором элемента очереди
func (l *Logger) WithQueueID(id int64) *Logger {
	return l.With(QueueID(id))
}

// Sugar возвращает sugared-логгер для printf-стиля
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальный логгер
// ============================================================

var (
	globalLogger *Logger
	globalMu     sync.Mutex
)

// InitGlobalLogger инициализирует глобальный логгер и возвращает его
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая дефолтный при необходимости
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// Глобальные функции логирования

func Debug(msg string, fields ...zap.Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetGlobalLogger().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { GetGlobalLogger().Fatal(msg, fields...) }

// Printf-стиль через sugared-логгер

func Debugf(template string, args ...interface{}) { GetGlobalLogger().sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { GetGlobalLogger().sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { GetGlobalLogger().sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { GetGlobalLogger().sugar.Errorf(template, args...) }

// fieldsToInterface преобразует zap-поля в пары ключ/значение для sugar API
func fieldsToInterface(fields []zap.Field) []interface{} {
	result := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		result = append(result, f.Key, f.Interface)
	}
	return result
}

// ============================================================
// Конструкторы доменных полей
// ============================================================

// Market - идентификатор торговой площадки
func Market(id string) zap.Field { return zap.String("market_id", id) }

// Token - токен расчётов
func Token(denom string) zap.Field { return zap.String("token", denom) }

// Wallet - адрес кошелька
func Wallet(addr string) zap.Field { return zap.String("wallet", addr) }

// QueueID - идентификатор элемента очереди
func QueueID(id int64) zap.Field { return zap.Int64("queue_id", id) }

// Direction - направление очереди (increase/decrease)
func Direction(dir string) zap.Field { return zap.String("direction", dir) }

// ItemKind - вид запроса в очереди
func ItemKind(kind string) zap.Field { return zap.String("kind", kind) }

// PositionID - идентификатор позиции на площадке
func PositionID(id string) zap.Field { return zap.String("position_id", id) }

// Amount - сумма в decimal-строке
func Amount(v string) zap.Field { return zap.String("amount", v) }

// SharePrice - стоимость доли
func SharePrice(v string) zap.Field { return zap.String("share_price", v) }

// WorkKind - вид единицы работы планировщика
func WorkKind(kind string) zap.Field { return zap.String("work_kind", kind) }

// State - состояние (статус элемента, синка и т.д.)
func State(s string) zap.Field { return zap.String("state", s) }

// Latency - длительность операции в миллисекундах
func Latency(ms float64) zap.Field { return zap.Float64("latency_ms", ms) }

// RequestID - идентификатор HTTP запроса
func RequestID(id string) zap.Field { return zap.String("request_id", id) }

// Component - имя компонента
func Component(name string) zap.Field { return zap.String("component", name) }

// Переэкспорт стандартных конструкторов zap для удобства

func String(key, value string) zap.Field          { return zap.String(key, value) }
func Int(key string, value int) zap.Field         { return zap.Int(key, value) }
func Int64(key string, value int64) zap.Field     { return zap.Int64(key, value) }
func Float64(key string, v float64) zap.Field     { return zap.Float64(key, v) }
func Bool(key string, value bool) zap.Field       { return zap.Bool(key, value) }
func Err(err error) zap.Field                     { return zap.Error(err) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }
