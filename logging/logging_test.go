package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestNewLoggerLevels(t *testing.T) {
	logger := NewLogger("info")
	test.That(t, logger.Desugar().Core().Enabled(zapcore.DebugLevel), test.ShouldBeFalse)
	test.That(t, logger.Desugar().Core().Enabled(zapcore.InfoLevel), test.ShouldBeTrue)

	logger = NewDevelopmentLogger("dev")
	test.That(t, logger.Desugar().Core().Enabled(zapcore.DebugLevel), test.ShouldBeTrue)
}

func TestObservedTestLogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Debug("hello")
	logger.Infow("world", "key", 17)

	test.That(t, observed.Len(), test.ShouldEqual, 2)
	test.That(t, observed.All()[0].Message, test.ShouldEqual, "hello")
	test.That(t, observed.FilterMessage("world").Len(), test.ShouldEqual, 1)
}
