package visual

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var hiveAPIDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "mediamod_hive_api_duration_sec",
	Help: "Duration of Hive image classification API calls",
})

var hiveAPICount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediamod_hive_api_count",
	Help: "Number of Hive image classification API calls, by HTTP status code",
}, []string{"status"})

var hiveResultCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediamod_hive_results",
	Help: "Number of Hive classification results converted to scan submissions, by summarized rating",
}, []string{"rating"})
