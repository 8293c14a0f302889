package config

// TelemetryConfig holds OTLP trace export configuration.
//
// Tracing is disabled unless OTLPEndpoint is set. See
// internal/observability for the exporter setup.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP HTTP collector endpoint (e.g. localhost:4318).
	// Empty disables trace export.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the service name reported on spans (default: faqgent)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}
