package k8s

import (
	"strings"
	"time"
)

// Job condition types and the reasons the orchestrator distinguishes.
const (
	JobComplete  = "Complete"
	JobFailed    = "Failed"
	JobSuspended = "Suspended"

	ReasonDeadlineExceeded     = "DeadlineExceeded"
	ReasonBackoffLimitExceeded = "BackoffLimitExceeded"
)

// The types below carry only the batch/v1 fields pipeline jobs set or read.

type ObjectMeta struct {
	Name      string            `json:"name,omitempty"`
	Namespace string            `json:"namespace,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type ResourceRequirements struct {
	Limits   map[string]string `json:"limits,omitempty"`
	Requests map[string]string `json:"requests,omitempty"`
}

// Request sets a resource request; an empty quantity is ignored.
func (r *ResourceRequirements) Request(name, quantity string) {
	r.Requests = setQuantity(r.Requests, name, quantity)
}

// Limit sets a resource limit; an empty quantity is ignored.
func (r *ResourceRequirements) Limit(name, quantity string) {
	r.Limits = setQuantity(r.Limits, name, quantity)
}

func setQuantity(m map[string]string, name, quantity string) map[string]string {
	quantity = strings.TrimSpace(quantity)
	if quantity == "" {
		return m
	}
	if m == nil {
		m = map[string]string{}
	}
	m[name] = quantity
	return m
}

type Container struct {
	Name      string               `json:"name"`
	Image     string               `json:"image"`
	Command   []string             `json:"command,omitempty"`
	Args      []string             `json:"args,omitempty"`
	Env       []EnvVar             `json:"env,omitempty"`
	Resources ResourceRequirements `json:"resources,omitempty"`
}

type PodSpec struct {
	RestartPolicy      string      `json:"restartPolicy,omitempty"`
	ServiceAccountName string      `json:"serviceAccountName,omitempty"`
	Containers         []Container `json:"containers"`
}

type PodTemplateSpec struct {
	Metadata ObjectMeta `json:"metadata,omitempty"`
	Spec     PodSpec    `json:"spec"`
}

type JobSpec struct {
	BackoffLimit            *int32          `json:"backoffLimit,omitempty"`
	ActiveDeadlineSeconds   *int64          `json:"activeDeadlineSeconds,omitempty"`
	TTLSecondsAfterFinished *int32          `json:"ttlSecondsAfterFinished,omitempty"`
	Template                PodTemplateSpec `json:"template"`
}

type JobCondition struct {
	Type    string `json:"type,omitempty"`
	Status  string `json:"status,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Text is the message of the condition, or its reason when there is none.
func (c JobCondition) Text() string {
	if msg := strings.TrimSpace(c.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(c.Reason)
}

type JobStatus struct {
	StartTime      *time.Time     `json:"startTime,omitempty"`
	CompletionTime *time.Time     `json:"completionTime,omitempty"`
	Active         int32          `json:"active,omitempty"`
	Succeeded      int32          `json:"succeeded,omitempty"`
	Failed         int32          `json:"failed,omitempty"`
	Conditions     []JobCondition `json:"conditions,omitempty"`
}

type Job struct {
	APIVersion string     `json:"apiVersion,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Metadata   ObjectMeta `json:"metadata"`
	Spec       JobSpec    `json:"spec"`
	Status     JobStatus  `json:"status,omitempty"`
}

// Condition returns the first condition of the given type whose status is True.
func (j Job) Condition(conditionType string) (JobCondition, bool) {
	for _, cond := range j.Status.Conditions {
		if !strings.EqualFold(cond.Status, "True") {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(cond.Type), conditionType) {
			return cond, true
		}
	}
	return JobCondition{}, false
}
