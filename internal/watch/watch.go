// Package watch turns the cluster's Deployment watch stream into rollout
// snapshots for the dispatcher. It owns the Kubernetes client and a
// self-restarting list+watch loop; everything downstream is cluster-agnostic.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	appsv1 "k8s.io/api/apps/v1"

	"kubelookout/internal/rollout"
	logx "kubelookout/pkg/logx"
)

const restartDelay = 5 * time.Second

type Config struct {
	// Kubeconfig is only consulted outside a cluster; empty falls back to
	// $KUBECONFIG and then ~/.kube/config.
	Kubeconfig       string
	IgnoreNamespaces []string
}

// Handler receives the converted stream. OnDelete is optional.
type Handler interface {
	OnEvent(snap rollout.Snapshot)
	OnDelete(id rollout.Identity)
}

type Watcher struct {
	client  kubernetes.Interface
	ignored map[string]struct{}
	handler Handler
	log     logx.Logger
	now     func() time.Time
}

func New(cfg Config, handler Handler, log logx.Logger) (*Watcher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	rc, err := buildRestConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, err
	}
	return newWithClient(cfg, cs, handler, log), nil
}

// newWithClient lets tests inject a fake clientset.
func newWithClient(cfg Config, cs kubernetes.Interface, handler Handler, log logx.Logger) *Watcher {
	ignored := map[string]struct{}{}
	for _, ns := range cfg.IgnoreNamespaces {
		if ns = strings.TrimSpace(ns); ns != "" {
			ignored[ns] = struct{}{}
		}
	}
	return &Watcher{
		client:  cs,
		ignored: ignored,
		handler: handler,
		log:     log,
		now:     time.Now,
	}
}

// buildRestConfig prefers the in-cluster service account; outside a pod it
// walks the usual kubeconfig fallbacks.
func buildRestConfig(kubeconfig string) (*rest.Config, error) {
	if rc, err := rest.InClusterConfig(); err == nil {
		return rc, nil
	}
	path := strings.TrimSpace(kubeconfig)
	if path == "" {
		path = os.Getenv("KUBECONFIG")
	}
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".kube", "config")
		}
	}
	return clientcmd.BuildConfigFromFlags("", path)
}

// Run drives the list+watch loop until ctx is canceled. A broken watch is
// re-established after a short delay, resuming from the listed
// resourceVersion so no change window is silently skipped.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.watchOnce(ctx); err != nil {
			w.log.Warn("deployment watch broke; restarting",
				logx.Err(err),
				logx.Duration("delay", restartDelay),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(restartDelay):
		}
	}
}

func (w *Watcher) watchOnce(ctx context.Context) error {
	deps := w.client.AppsV1().Deployments(metav1.NamespaceAll)

	list, err := deps.List(ctx, metav1.ListOptions{})
	if err != nil {
		return err
	}

	wi, err := deps.Watch(ctx, metav1.ListOptions{
		ResourceVersion: list.ResourceVersion,
	})
	if err != nil {
		return err
	}
	defer wi.Stop()

	w.log.Info("watching deployments", logx.Int("known", len(list.Items)))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-wi.ResultChan():
			if !ok {
				return nil // server closed the watch; caller re-lists
			}
			w.dispatch(ev)
		}
	}
}

func (w *Watcher) dispatch(ev apiwatch.Event) {
	d, ok := ev.Object.(*appsv1.Deployment)
	if !ok {
		return
	}
	if _, skip := w.ignored[d.Namespace]; skip {
		return
	}
	switch ev.Type {
	case apiwatch.Added, apiwatch.Modified:
		w.handler.OnEvent(convert(d, w.now()))
	case apiwatch.Deleted:
		w.handler.OnDelete(rollout.Identity{Namespace: d.Namespace, Name: d.Name})
	}
}
