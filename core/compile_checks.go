package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Sender          = SenderFunc(nil)
	_ Clock           = SystemClock{}
	_ Clock           = ClockFunc(nil)
	_ RefreshLocker   = (*MemoryRefreshLocker)(nil)
	_ MetricsRecorder = NopMetricsRecorder{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
