package service

import (
	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/observability/metrics"
)

func incrementLogin(realm authdomain.UserType, outcome string) {
	metrics.LoginsTotal.WithLabelValues(string(realm), outcome).Inc()
}
