package console

type Tab int

const (
	TabOverview Tab = iota
	TabOperations
	TabPartitions
	TabLogs
	TabMetrics
)

type TabInfo struct {
	Tab   Tab
	ID    string
	Label string
}

var tabs = []TabInfo{
	{TabOverview, "overview", "Overview"},
	{TabOperations, "operations", "Operations"},
	{TabPartitions, "gpt", "Partitions"},
	{TabLogs, "logs", "Logs"},
	{TabMetrics, "metrics", "Metrics"},
}

// Tabs lists the console tabs in display order.
func Tabs() []TabInfo {
	return append([]TabInfo(nil), tabs...)
}

func (t Tab) Info() TabInfo {
	if t < 0 || int(t) >= len(tabs) {
		return tabs[TabOverview]
	}
	return tabs[t]
}

func (t Tab) String() string {
	return t.Info().Label
}

// Next cycles through the tabs.
func (t Tab) Next() Tab {
	return Tab((int(t) + 1) % len(tabs))
}

func (t Tab) Prev() Tab {
	return Tab((int(t) + len(tabs) - 1) % len(tabs))
}
