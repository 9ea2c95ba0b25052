package watch

import (
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"kubelookout/internal/rollout"
)

// convert flattens a Deployment into the snapshot the classifier consumes.
func convert(d *appsv1.Deployment, now time.Time) rollout.Snapshot {
	s := rollout.Snapshot{
		Identity: rollout.Identity{
			Namespace: d.Namespace,
			Name:      d.Name,
		},
		Desired:            1,
		Ready:              d.Status.ReadyReplicas,
		Updated:            d.Status.UpdatedReplicas,
		Unavailable:        d.Status.UnavailableReplicas,
		Generation:         d.Generation,
		ObservedGeneration: d.Status.ObservedGeneration,
		FailureMessage:     failureMessage(d.Status.Conditions),
		ObservedAt:         now,
	}
	if d.Spec.Replicas != nil {
		s.Desired = *d.Spec.Replicas
	}
	for i, c := range d.Spec.Template.Spec.Containers {
		s.Images = append(s.Images, c.Image)
		if i == 0 {
			s.ImageTag = imageTag(c.Image)
		}
	}
	return s
}

// failureMessage returns the Progressing condition's message once the
// controller has given up (e.g. ProgressDeadlineExceeded).
func failureMessage(conds []appsv1.DeploymentCondition) string {
	for _, c := range conds {
		if c.Type == appsv1.DeploymentProgressing && c.Status == corev1.ConditionFalse {
			return c.Message
		}
	}
	return ""
}

// imageTag extracts the version tag from an image ref. A registry host may
// carry a port, so only the part after the final slash is inspected.
func imageTag(ref string) string {
	if ref == "" {
		return ""
	}
	// Drop any digest; the tag in front of it still names the version.
	if i := strings.Index(ref, "@"); i >= 0 {
		ref = ref[:i]
	}
	last := ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		last = ref[i+1:]
	}
	if i := strings.LastIndex(last, ":"); i >= 0 {
		return last[i+1:]
	}
	return "latest"
}
