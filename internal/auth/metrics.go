package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hashDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auth_password_hash_duration_seconds",
		Help:    "Time spent hashing or verifying passwords, including pool queueing.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"op"})

	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})

	grantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_grant_operations_total",
		Help: "Grant and revoke operations by outcome.",
	}, []string{"op", "outcome"})

	permissionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_permission_cache_hits_total",
		Help: "Role permission lookups served from cache.",
	})
	permissionCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_permission_cache_misses_total",
		Help: "Role permission lookups that reached the store.",
	})

	tokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_validations_total",
		Help: "Token validations by outcome.",
	}, []string{"outcome"})
)
