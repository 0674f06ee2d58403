package callsdk

import "github.com/go-logr/logr"

// Telemetry receives product analytics and captured errors.
type Telemetry interface {
	SendLog(name string, properties map[string]interface{})
	CaptureError(subject string, err error)
}

// LogTelemetry writes telemetry to a logger.
type LogTelemetry struct {
	logger logr.Logger
}

func NewLogTelemetry(logger logr.Logger) *LogTelemetry {
	return &LogTelemetry{logger: logger.WithName("telemetry")}
}

func (t *LogTelemetry) SendLog(name string, properties map[string]interface{}) {
	kv := make([]interface{}, 0, 2*len(properties))
	for k, v := range properties {
		kv = append(kv, k, v)
	}
	t.logger.V(1).Info(name, kv...)
}

func (t *LogTelemetry) CaptureError(subject string, err error) {
	t.logger.Error(err, subject, "class", describeEngineError(err))
}
