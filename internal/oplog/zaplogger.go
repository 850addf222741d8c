package oplog

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/truco/pkg/mesas"
	"go.uber.org/zap"
)

// ZapLogger writes registry operation records to a zap logger.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger returns a ZapLogger. A nil logger discards records.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("registry")}
}

// LogOperation implements mesas.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry mesas.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.PlayerID.IsZero() {
		fields = append(fields, zap.String("player_id", entry.PlayerID.String()))
	}
	if !entry.TableID.IsZero() {
		fields = append(fields, zap.String("mesa_id", entry.TableID.String()))
	}
	if entry.SeatIndex != nil {
		fields = append(fields, zap.Int("posicion", entry.SeatIndex.Int()))
	}
	if entry.Error == nil {
		zapLogger.logger.Info("registry operation", fields...)
		return
	}
	fields = append(fields, zap.Error(entry.Error))
	if mesas.IsDomainError(entry.Error) && !isInfrastructureError(entry.Error) {
		zapLogger.logger.Warn("registry operation rejected", fields...)
		return
	}
	zapLogger.logger.Error("registry operation failed", fields...)
}

func isInfrastructureError(err error) bool {
	return errors.Is(err, mesas.ErrStoreUnavailable) || errors.Is(err, mesas.ErrCreateFailed)
}
