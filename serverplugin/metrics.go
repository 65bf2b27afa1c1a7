package serverplugin

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/smallnest/rpcxbench/protocol"
	"github.com/smallnest/rpcxbench/server"
)

// MetricsPlugin records server activity in a go-metrics registry:
// registered services, accepted and open connections, and per method
// response rate, errors and handling time. Handling time runs from the
// moment a request was read until its response was written.
type MetricsPlugin struct {
	Registry metrics.Registry
	// Prefix is prepended to every metric name.
	Prefix string
}

// NewMetricsPlugin returns a plugin with a fresh registry.
func NewMetricsPlugin() *MetricsPlugin {
	return &MetricsPlugin{Registry: metrics.NewRegistry()}
}

func (p *MetricsPlugin) counter(name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(p.Prefix+name, p.Registry)
}

func (p *MetricsPlugin) meter(name string) metrics.Meter {
	return metrics.GetOrRegisterMeter(p.Prefix+name, p.Registry)
}

func methodKey(path, method string) string {
	return "service_" + path + "." + method
}

func (p *MetricsPlugin) Register(name string, rcvr any, metadata string) error {
	p.counter("serviceCounter").Inc(1)
	return nil
}

func (p *MetricsPlugin) HandleConnAccept(conn net.Conn) (net.Conn, bool) {
	p.meter("clientMeter").Mark(1)
	p.counter("activeConns").Inc(1)
	return conn, true
}

func (p *MetricsPlugin) HandleConnClose(conn net.Conn) bool {
	p.counter("activeConns").Dec(1)
	return true
}

func (p *MetricsPlugin) PostWriteResponse(ctx context.Context, req, res *protocol.Message, err error) error {
	key := methodKey(res.ServicePath, res.ServiceMethod)

	p.meter(key + "_Write_Qps").Mark(1)
	if err != nil || res.Status == protocol.Error {
		p.counter(key + "_Errors").Inc(1)
	}
	if start, ok := ctx.Value(server.StartRequestContextKey).(time.Time); ok {
		metrics.GetOrRegisterTimer(p.Prefix+key+"_CallTime", p.Registry).UpdateSince(start)
	}
	return nil
}

// CallTime returns the handling time timer of a service method,
// or nil if no response of that method has been written.
func (p *MetricsPlugin) CallTime(servicePath, serviceMethod string) metrics.Timer {
	t, _ := p.Registry.Get(p.Prefix + methodKey(servicePath, serviceMethod) + "_CallTime").(metrics.Timer)
	return t
}

// WriteTo writes a one-line summary of every handling time timer to w.
func (p *MetricsPlugin) WriteTo(w io.Writer) (int64, error) {
	var lines []string
	p.Registry.Each(func(name string, i any) {
		t, ok := i.(metrics.Timer)
		if !ok {
			return
		}
		s := t.Snapshot()
		lines = append(lines, fmt.Sprintf("  %s: count=%d mean=%v p99=%v max=%v\n",
			strings.TrimPrefix(name, p.Prefix), s.Count(),
			time.Duration(s.Mean()), time.Duration(s.Percentile(0.99)), time.Duration(s.Max())))
	})
	sort.Strings(lines)

	var total int64
	for _, line := range lines {
		n, err := io.WriteString(w, line)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
