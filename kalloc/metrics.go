package kalloc

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Alloc(int)           {}
func (NoopMetrics) Free(int)            {}
func (NoopMetrics) Steal(int, int, int) {}
func (NoopMetrics) Exhausted(int)       {}

var _ Metrics = NoopMetrics{}
