// Package logging provides structured logging using uber/zap.
//
// Production output is sampled JSON; development output is colored
// console text. Every line carries the service name, and subsystems log
// through Component so their lines are tagged:
//
//	logger := logging.NewDefault()
//	cacheLog := logger.Component("cache")
//	cacheLog.Warn("shared cache operation failed", zap.Error(err))
package logging
