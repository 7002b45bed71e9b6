package l2tpd

import (
	"github.com/prometheus/client_golang/prometheus"
)

// statsSet holds the prometheus instruments for one daemon instance.
type statsSet struct {
	rxControl     *prometheus.CounterVec
	txControl     *prometheus.CounterVec
	rxInvalid     *prometheus.CounterVec
	retransmits   prometheus.Counter
	rxData        prometheus.Counter
	txData        prometheus.Counter
	connections   prometheus.Gauge
	sessions      prometheus.Gauge
	connFailures  prometheus.Counter
}

// newStatsSet builds the instrument set and registers it with reg.
func newStatsSet(reg prometheus.Registerer) *statsSet {
	s := &statsSet{
		rxControl: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "l2tpd",
			Name:      "rx_control_messages_total",
			Help:      "Control messages received, by message name.",
		}, []string{"message"}),
		txControl: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "l2tpd",
			Name:      "tx_control_messages_total",
			Help:      "Control messages transmitted, by message name.",
		}, []string{"message"}),
		rxInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "l2tpd",
			Name:      "rx_invalid_total",
			Help:      "Received packets dropped during validation, by reason.",
		}, []string{"reason"}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "l2tpd",
			Name:      "control_retransmits_total",
			Help:      "Control message retransmissions.",
		}),
		rxData: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "l2tpd",
			Name:      "rx_data_packets_total",
			Help:      "Data plane packets received.",
		}),
		txData: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "l2tpd",
			Name:      "tx_data_packets_total",
			Help:      "Data plane packets transmitted.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "l2tpd",
			Name:      "control_connections",
			Help:      "Established control connections.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "l2tpd",
			Name:      "sessions",
			Help:      "Established sessions.",
		}),
		connFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "l2tpd",
			Name:      "control_connection_failures_total",
			Help:      "Control connections torn down due to errors.",
		}),
	}
	reg.MustRegister(s.rxControl, s.txControl, s.rxInvalid, s.retransmits,
		s.rxData, s.txData, s.connections, s.sessions, s.connFailures)
	return s
}

func (s *statsSet) countRxInvalid(reason string) {
	s.rxInvalid.WithLabelValues(reason).Inc()
}
