package pipeline

// Health summarizes the readiness of one stage handler.
type Health struct {
	Stage  string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(stage string) Health {
	return Health{Stage: stage, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(stage, detail string) Health {
	return Health{Stage: stage, Ready: false, Detail: detail}
}
