package sink

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/tidwall/gjson"

	"github.com/lcx/emflog/log"
)

// PrometheusSinkCfg configures a PrometheusSink.
type PrometheusSinkCfg struct {
	Tag      string `mapstructure:"tag"`
	ChanSize int    `mapstructure:"chanSize"`

	// EnableHTTP exposes the mirror on an ephemeral port for scraping.
	EnableHTTP bool   `mapstructure:"enableHTTP"`
	MetricPath string `mapstructure:"metricPath"`

	// UsePush forwards the mirror to a push gateway instead of (or next
	// to) the scrape endpoint.
	UsePush         bool   `mapstructure:"usePush"`
	PushAddr        string `mapstructure:"pushAddr"`
	PushJobName     string `mapstructure:"pushJobName"`
	PushIntervalSec int    `mapstructure:"pushIntervalSec"`
}

// GetName returns the configuration name for PrometheusSinkCfg.
func (c *PrometheusSinkCfg) GetName() string {
	return "prometheus_sink"
}

// Validate normalizes defaults; push mode requires a gateway address.
func (c *PrometheusSinkCfg) Validate() error {
	if c.ChanSize <= 0 {
		c.ChanSize = 8192
	}
	if c.MetricPath == "" {
		c.MetricPath = "/metrics"
	}
	if c.PushJobName == "" {
		c.PushJobName = "emflog"
	}
	if c.PushIntervalSec <= 0 {
		c.PushIntervalSec = 15
	}
	if c.UsePush && c.PushAddr == "" {
		return errors.New("push mode requires pushAddr")
	}
	return nil
}

// PrometheusSink mirrors emitted metrics into a Prometheus registry so
// development setups can scrape or push what the application reports
// without a CloudWatch backend. It is a diagnostics aid, not a delivery
// path: Accept never fails on overload, over-capacity documents are
// counted and dropped.
type PrometheusSink struct {
	cfg *PrometheusSinkCfg

	registry  *prometheus.Registry
	vecs      map[string]*prometheus.GaugeVec
	gauges    map[string]prometheus.Gauge
	processed prometheus.Counter

	docChan chan string
	ntfChan chan chan struct{}
	dropped atomic.Uint64

	promSvr  *http.Server
	httpAddr net.Addr
	pusher   *push.Pusher

	ctx          context.Context
	cancel       context.CancelFunc
	consumerDone chan struct{}

	stateMu sync.RWMutex
	closed  bool
}

// NewPrometheusSink validates cfg, starts the consumer goroutine and, when
// configured, the scrape listener and the push loop.
func NewPrometheusSink(cfg *PrometheusSinkCfg) (*PrometheusSink, error) {
	if cfg == nil {
		cfg = &PrometheusSinkCfg{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	registry := prometheus.NewRegistry()
	s := &PrometheusSink{
		cfg:      cfg,
		registry: registry,
		vecs:     map[string]*prometheus.GaugeVec{},
		gauges:   map[string]prometheus.Gauge{},
		processed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "emf_documents_processed_total",
			Help: "Documents folded into the local mirror.",
		}),
		docChan:      make(chan string, cfg.ChanSize),
		ntfChan:      make(chan chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		consumerDone: make(chan struct{}),
	}

	go s.consume()

	if cfg.EnableHTTP {
		if err := s.startHTTPSvr(); err != nil {
			s.cancel()
			<-s.consumerDone
			return nil, err
		}
	}
	if cfg.UsePush {
		s.startPusher()
	}

	return s, nil
}

// Name implements Sink.
func (s *PrometheusSink) Name() string { return "prometheus" }

// FactoryName implements plugin.Plugin.
func (s *PrometheusSink) FactoryName() string { return "prometheus" }

// Accept mirrors the documents without blocking. When the channel is full
// documents are dropped and counted.
func (s *PrometheusSink) Accept(events []string) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.closed {
		return errors.New("prometheus sink is closed")
	}

	for _, ev := range events {
		select {
		case s.docChan <- ev:
		default:
			s.dropped.Add(1)
			log.Error().Msg("prometheus sink document chan full")
		}
	}
	return nil
}

// Refresh blocks until every document queued so far is folded into the
// registry.
func (s *PrometheusSink) Refresh() error {
	s.stateMu.RLock()
	if s.closed {
		s.stateMu.RUnlock()
		return nil
	}
	done := make(chan struct{})
	s.ntfChan <- done
	s.stateMu.RUnlock()

	<-done
	return nil
}

// Close stops the consumer, the scrape listener and the push loop.
func (s *PrometheusSink) Close() error {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return nil
	}
	s.closed = true
	s.stateMu.Unlock()

	s.cancel()
	<-s.consumerDone

	if s.promSvr != nil {
		if err := s.promSvr.Close(); err != nil {
			log.Error().Err(err).Msg("prometheus sink http close failed")
		}
		s.promSvr = nil
	}
	return nil
}

// Dropped reports how many documents were discarded because the channel
// was full.
func (s *PrometheusSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Gatherer exposes the mirror registry, e.g. for mounting on an existing
// HTTP mux.
func (s *PrometheusSink) Gatherer() prometheus.Gatherer {
	return s.registry
}

// HTTPAddr returns the scrape listener address, nil when HTTP is disabled.
func (s *PrometheusSink) HTTPAddr() net.Addr {
	return s.httpAddr
}

// startHTTPSvr exposes the registry on an ephemeral port.
func (s *PrometheusSink) startHTTPSvr() error {
	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: nil, Port: 0})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.MetricPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.promSvr = &http.Server{Handler: mux}
	s.httpAddr = l.Addr()
	go s.promSvr.Serve(l)
	log.Info().Str("addr", l.Addr().String()).Str("path", s.cfg.MetricPath).
		Msg("prometheus sink listening")

	return nil
}

func (s *PrometheusSink) startPusher() {
	s.pusher = push.New(s.cfg.PushAddr, s.cfg.PushJobName).Gatherer(s.registry)
	go func() {
		log.Info().Str("addr", s.cfg.PushAddr).Msg("prometheus sink pusher started")
		t := time.NewTicker(time.Duration(s.cfg.PushIntervalSec) * time.Second)
		defer t.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-t.C:
				pushCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				if err := s.pusher.PushContext(pushCtx); err != nil {
					log.Error().Err(err).Msg("prometheus sink push failed")
				}
				cancel()
			}
		}
	}()
}

func (s *PrometheusSink) consume() {
	defer close(s.consumerDone)

	for {
		select {
		case doc := <-s.docChan:
			s.ingest(doc)
		case done := <-s.ntfChan:
			s.drainDocs()
			close(done)
		case <-s.ctx.Done():
			s.drainDocs()
			return
		}
	}
}

func (s *PrometheusSink) drainDocs() {
	for {
		select {
		case doc := <-s.docChan:
			s.ingest(doc)
		default:
			return
		}
	}
}

// ingest extracts the metric samples of one document and feeds the
// mirror. The first dimension set provides the label identity, which is
// how dashboards usually key these metrics.
func (s *PrometheusSink) ingest(doc string) {
	if !gjson.Valid(doc) {
		log.Warn().Msg("prometheus sink skipping invalid document")
		return
	}

	directive := gjson.Get(doc, "_aws.CloudWatchMetrics.0")
	if !directive.Exists() {
		log.Debug().Msg("prometheus sink skipping non-metric document")
		return
	}

	namespace := directive.Get("Namespace").String()

	labels := map[string]string{}
	directive.Get("Dimensions.0").ForEach(func(_, key gjson.Result) bool {
		name := key.String()
		labels[name] = gjson.Get(doc, escapeJSONPath(name)).String()
		return true
	})

	directive.Get("Metrics").ForEach(func(_, m gjson.Result) bool {
		name := m.Get("Name").String()
		if name == "" {
			return true
		}

		g := s.gauge(namespace, name, labels)
		if g == nil {
			return true
		}

		value := gjson.Get(doc, escapeJSONPath(name))
		if value.IsArray() {
			for _, v := range value.Array() {
				g.Set(v.Float())
			}
			return true
		}
		g.Set(value.Float())
		return true
	})

	s.processed.Inc()
}

// gauge returns the mirror gauge for a metric identity, creating the
// underlying vector on first sight. Documents whose dimension keys clash
// with an earlier sighting of the same metric name are skipped.
func (s *PrometheusSink) gauge(namespace, name string, labels map[string]string) prometheus.Gauge {
	key := gaugeKey(namespace, name, labels)
	if g, ok := s.gauges[key]; ok {
		return g
	}

	vec := s.gaugeVec(namespace, name, labels)

	promLabels := make(prometheus.Labels, len(labels))
	for k, v := range labels {
		promLabels[sanitizeMetricName(k)] = v
	}
	g, err := vec.GetMetricWith(promLabels)
	if err != nil {
		log.Warn().Str("metric", name).Err(err).Msg("prometheus sink dimension mismatch")
		return nil
	}

	s.gauges[key] = g
	return g
}

// gaugeVec keys vectors by the sanitized name so that two raw names
// mapping to the same Prometheus name share one registration.
func (s *PrometheusSink) gaugeVec(namespace, name string, labels map[string]string) *prometheus.GaugeVec {
	ns := sanitizeMetricName(namespace)
	sane := sanitizeMetricName(name)

	vecKey := ns + "*" + sane
	if v, ok := s.vecs[vecKey]; ok {
		return v
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, sanitizeMetricName(k))
	}
	sort.Strings(keys)

	v := promauto.With(s.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      sane,
		Help:      "Mirrored embedded-metric value.",
	}, keys)
	s.vecs[vecKey] = v
	return v
}

// gaugeKey builds the identity of a gauge: namespace, metric name, then
// the dimension pairs in sorted order.
func gaugeKey(namespace, name string, labels map[string]string) string {
	var sb strings.Builder
	sb.Grow(256)
	sb.WriteString(namespace)
	sb.WriteString("*")
	sb.WriteString(name)
	sb.WriteString("*")

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(":")
		sb.WriteString(labels[k])
		sb.WriteString(",")
	}
	return sb.String()
}

// sanitizeMetricName rewrites characters Prometheus identifiers reject.
func sanitizeMetricName(v string) string {
	v = strings.ReplaceAll(v, ".", "_")
	v = strings.ReplaceAll(v, "/", "_")
	v = strings.ReplaceAll(v, "-", "_")
	return v
}

// escapeJSONPath escapes gjson path specials so flat EMF keys containing
// dots resolve as single keys rather than nested paths.
func escapeJSONPath(key string) string {
	r := strings.NewReplacer(".", "\\.", "*", "\\*", "?", "\\?")
	return r.Replace(key)
}
