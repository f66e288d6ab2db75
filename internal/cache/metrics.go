package cache

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is the default when no metrics backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit(string)                       {}
func (NoopMetrics) Miss(string)                      {}
func (NoopMetrics) Load(string, LoadOutcome)         {}
func (NoopMetrics) Size(string, int)                 {}
func (NoopMetrics) PollerFetch(string, bool)         {}
func (NoopMetrics) PollerState(string, PollingState) {}

var _ Metrics = NoopMetrics{}
