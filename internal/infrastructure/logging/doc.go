// Package logging provides structured logging using uber/zap.
//
// Production mode writes JSON for machine parsing; development mode writes
// colored console output. Components receive a plain *zap.Logger from
// Component so library packages stay independent of this wrapper.
//
// Security-relevant events (rejected boundary crossings between the host
// and a guest or tracee) are logged at Error with security_event=true and
// a boundary field, so they can be alerted on separately.
//
//	logger := logging.NewDefault()
//	guestLog := logger.Component("guest")
//	guestLog.Info("Guest analysis module loaded", zap.Int("size", n))
package logging
