package v1alpha1

import (
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Validate checks a defaulted plan. Traffic percentages may stay flat between
// stages but never decrease: a ramp-down is rejected as a configuration error.
func Validate(p *CanaryPlan) error {
	var errs field.ErrorList
	spec := field.NewPath("spec")
	s := &p.Spec

	if s.Service == "" {
		errs = append(errs, field.Required(spec.Child("service"), ""))
	} else {
		for _, msg := range validation.IsDNS1035Label(s.Service) {
			errs = append(errs, field.Invalid(spec.Child("service"), s.Service, msg))
		}
	}
	if s.Version == "" {
		errs = append(errs, field.Required(spec.Child("version"), ""))
	}

	stagesPath := spec.Child("stages")
	if len(s.Stages) == 0 {
		errs = append(errs, field.Required(stagesPath, "at least one stage is required"))
	}
	names := sets.New[string]()
	var prev int32
	for i, st := range s.Stages {
		idx := stagesPath.Index(i)
		switch {
		case st.Name == "":
			errs = append(errs, field.Required(idx.Child("name"), ""))
		case names.Has(st.Name):
			errs = append(errs, field.Duplicate(idx.Child("name"), st.Name))
		default:
			names.Insert(st.Name)
		}
		if st.TrafficPercent < 0 || st.TrafficPercent > 100 {
			errs = append(errs, field.Invalid(idx.Child("trafficPercent"), st.TrafficPercent, "must be between 0 and 100"))
		} else if st.TrafficPercent < prev {
			errs = append(errs, field.Invalid(idx.Child("trafficPercent"), st.TrafficPercent,
				"must not be lower than the previous stage"))
		}
		if st.TrafficPercent > prev {
			prev = st.TrafficPercent
		}
		if st.Duration.Duration < 0 {
			errs = append(errs, field.Invalid(idx.Child("duration"), st.Duration.String(), "must not be negative"))
		}
		if st.SLO.MaxErrorRate < 0 || st.SLO.MaxErrorRate > 1 {
			errs = append(errs, field.Invalid(idx.Child("slo", "maxErrorRate"), st.SLO.MaxErrorRate, "must be between 0 and 1"))
		}
		if st.SLO.MaxP99LatencyMs < 0 {
			errs = append(errs, field.Invalid(idx.Child("slo", "maxP99LatencyMs"), st.SLO.MaxP99LatencyMs, "must not be negative"))
		}
	}

	if s.Rollback.SLOViolationThreshold < 1 {
		errs = append(errs, field.Invalid(spec.Child("rollback", "sloViolationThreshold"),
			s.Rollback.SLOViolationThreshold, "must be at least 1"))
	}
	if s.Prometheus.URL == "" {
		errs = append(errs, field.Required(spec.Child("prometheus", "url"), ""))
	}
	if s.Kubernetes.Namespace == "" {
		errs = append(errs, field.Required(spec.Child("kubernetes", "namespace"), ""))
	}
	if s.Workload.Replicas < 1 {
		errs = append(errs, field.Invalid(spec.Child("workload", "replicas"), s.Workload.Replicas, "must be at least 1"))
	}
	switch s.Traffic.Provider {
	case TrafficProviderSMI, TrafficProviderAnnotation:
	default:
		errs = append(errs, field.NotSupported(spec.Child("traffic", "provider"), s.Traffic.Provider,
			[]string{TrafficProviderSMI, TrafficProviderAnnotation}))
	}

	return errs.ToAggregate()
}
