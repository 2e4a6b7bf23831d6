package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storeUp = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "nostr_relay",
	Name:      "store_up",
	Help:      "1 if the last background store ping succeeded, else 0",
})
