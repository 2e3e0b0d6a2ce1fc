package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var mediaIndexed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mediamod_search_media_indexed",
	Help: "Number of media documents indexed",
})

var mediaDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mediamod_search_media_deleted",
	Help: "Number of media documents deleted",
})

var mediaFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediamod_search_media_failed",
	Help: "Number of failed search index operations",
}, []string{"op"})
