package metrics

import "strings"

// Config supplies constant labels for every registered collector.
type Config struct {
	ServiceName string
	Environment string
}

func (c Config) constLabels() map[string]string {
	serviceName := strings.TrimSpace(c.ServiceName)
	if serviceName == "" {
		serviceName = "billingledger"
	}
	environment := strings.TrimSpace(c.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return map[string]string{
		"service": serviceName,
		"env":     environment,
	}
}
