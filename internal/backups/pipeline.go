// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/pointer"

	"github.com/wharfkeep/wharfkeep/core/database"
	"github.com/wharfkeep/wharfkeep/internal/engine"
	"github.com/wharfkeep/wharfkeep/internal/kubernetes"
	"github.com/wharfkeep/wharfkeep/internal/kubernetes/exec"
)

// ErrNoBackupConfiguration is returned when a backup is requested for
// an instance whose engine has no scheduled backup support, or whose
// scheduled backup resource is gone.
const ErrNoBackupConfiguration = errors.ConstError("no backup configuration")

const (
	// manualBackupTTLSeconds has finished manual backup jobs garbage
	// collected by the cluster shortly after completion.
	manualBackupTTLSeconds = 300

	// stderrCaptureLimit bounds how much command stderr is retained
	// for error messages.
	stderrCaptureLimit = 4 * 1024
)

// CommandRunner executes argv in a workload container with attached
// streams. *exec.Executor is the production implementation.
type CommandRunner interface {
	Exec(ctx context.Context, params exec.Params) error
}

// ArtifactAccess is the slice of the artifact store the pipeline
// needs.
type ArtifactAccess interface {
	List(ctx context.Context, internalName string) ([]database.Artifact, error)
	Open(ctx context.Context, internalName, filename string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, internalName, filename string) error
	Prune(ctx context.Context, internalName string, keep int) (int, error)
}

var _ ArtifactAccess = (*ArtifactStore)(nil)

// DumpSink receives a dump stream. Start is called exactly once, with
// the suggested filename, before any payload bytes are written; this
// lets an HTTP caller emit attachment headers first.
type DumpSink interface {
	Start(filename string) (io.Writer, error)
}

// Params holds pipeline dependencies.
type Params struct {
	Client    *kubernetes.Client
	Runner    CommandRunner
	Artifacts ArtifactAccess
	Clock     clock.Clock
}

// Validate returns an error if the pipeline cannot operate with these
// params.
func (p Params) Validate() error {
	if p.Client == nil {
		return errors.NotValidf("nil Client")
	}
	if p.Runner == nil {
		return errors.NotValidf("nil Runner")
	}
	if p.Artifacts == nil {
		return errors.NotValidf("nil Artifacts")
	}
	if p.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Pipeline moves dump bytes between workload containers, the object
// store and HTTP callers.
type Pipeline struct {
	client    *kubernetes.Client
	runner    CommandRunner
	artifacts ArtifactAccess
	clock     clock.Clock

	// restores serializes restore per instance name; two interleaved
	// restore streams into one database have no defined outcome.
	restores *kmutex.Kmutex
}

// NewPipeline returns a pipeline using the supplied dependencies.
func NewPipeline(p Params) (*Pipeline, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Pipeline{
		client:    p.Client,
		runner:    p.Runner,
		artifacts: p.Artifacts,
		clock:     p.Clock,
		restores:  kmutex.New(),
	}, nil
}

// TriggerManualBackup starts an on-demand backup run cloned from the
// instance's scheduled backup job and returns its name. The run is
// not tracked further; the cluster reaps it after completion.
func (p *Pipeline) TriggerManualBackup(ctx context.Context, name string) (string, error) {
	if err := kubernetes.ValidateInstanceName(name); err != nil {
		return "", errors.Trace(err)
	}
	cronJob, err := p.client.GetCronJob(ctx, kubernetes.CronJobName(name))
	if errors.Is(err, errors.NotFound) {
		return "", fmt.Errorf("%w for database %q", ErrNoBackupConfiguration, name)
	}
	if err != nil {
		return "", errors.Trace(err)
	}

	jobSpec := cronJob.Spec.JobTemplate.Spec.DeepCopy()
	jobSpec.TTLSecondsAfterFinished = pointer.Int32Ptr(manualBackupTTLSeconds)
	jobName := kubernetes.ManualBackupJobName(name, p.clock.Now())
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: p.client.Namespace(),
			Labels:    kubernetes.InstanceLabels(name),
		},
		Spec: *jobSpec,
	}
	if _, err := p.client.CreateJob(ctx, job); err != nil {
		return "", errors.Annotate(err, "creating manual backup job")
	}
	logger.Infof("triggered manual backup %q for %q", jobName, name)
	return jobName, nil
}

// StreamDump runs the engine's dump command in the instance's primary
// container and relays its stdout into the sink unbuffered. A channel
// failure is always surfaced; the caller never receives a silently
// truncated dump that looks complete.
func (p *Pipeline) StreamDump(ctx context.Context, name string, sink DumpSink) error {
	strategy, err := p.strategyFor(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	pod, err := p.client.WorkloadPod(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}

	filename := fmt.Sprintf("%s_backup_%s.%s",
		name, p.clock.Now().UTC().Format(artifactTimestampLayout), strategy.DumpFileExtension())
	w, err := sink.Start(filename)
	if err != nil {
		return errors.Trace(err)
	}

	counted := &countingWriter{w: w}
	stderr := newCappedBuffer(stderrCaptureLimit)
	err = p.runner.Exec(ctx, exec.Params{
		PodName:       pod.Name,
		ContainerName: primaryContainer(pod),
		Commands:      strategy.DumpCommand(),
		Stdout:        counted,
		Stderr:        stderr,
	})
	if err != nil {
		if msg := stderr.String(); msg != "" {
			return errors.Annotatef(err, "dumping %q: %s", name, msg)
		}
		return errors.Annotatef(err, "dumping %q", name)
	}
	logger.Infof("dump of %q complete (%s)", name, humanize.Bytes(uint64(counted.n)))
	return nil
}

// Restore replays a stored artifact into the instance through the
// engine's restore command, stdin bound to the artifact stream.
// Restores of the same instance are serialized; concurrent callers
// wait. The pre and post commands are best effort and never fail the
// restore.
func (p *Pipeline) Restore(ctx context.Context, name, filename string) error {
	strategy, err := p.strategyFor(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}

	p.restores.Lock(name)
	defer p.restores.Unlock(name)

	internalName, err := p.internalName(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	stream, size, err := p.artifacts.Open(ctx, internalName, filename)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = stream.Close() }()

	pod, err := p.client.WorkloadPod(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}

	if commands, ok := strategy.PreRestoreCommand(); ok {
		if err := p.runner.Exec(ctx, exec.Params{
			PodName:       pod.Name,
			ContainerName: primaryContainer(pod),
			Commands:      commands,
			Stdout:        io.Discard,
			Stderr:        io.Discard,
		}); err != nil {
			logger.Warningf("pre-restore for %q: %v", name, err)
		}
	}

	stderr := newCappedBuffer(stderrCaptureLimit)
	err = p.runner.Exec(ctx, exec.Params{
		PodName:       pod.Name,
		ContainerName: primaryContainer(pod),
		Commands:      strategy.RestoreCommand(),
		Stdin:         stream,
		Stdout:        io.Discard,
		Stderr:        stderr,
	})
	if err != nil {
		if msg := stderr.String(); msg != "" {
			return errors.Annotatef(err, "restoring %q from %q: %s", name, filename, msg)
		}
		return errors.Annotatef(err, "restoring %q from %q", name, filename)
	}

	if commands, ok := strategy.PostRestoreCommand(); ok {
		// A post command that restarts the server drops the exec
		// connection with it, so an error here is the usual outcome.
		if err := p.runner.Exec(ctx, exec.Params{
			PodName:       pod.Name,
			ContainerName: primaryContainer(pod),
			Commands:      commands,
			Stdout:        io.Discard,
			Stderr:        io.Discard,
		}); err != nil {
			logger.Debugf("post-restore for %q: %v", name, err)
		}
	}

	logger.Infof("restored %q from %q (%s)", name, filename, humanize.Bytes(uint64(size)))
	return nil
}

// StreamLogs relays the instance's primary container log into w.
// Caller cancellation tears down the cluster stream; a stream failure
// ends the relay with an error.
func (p *Pipeline) StreamLogs(ctx context.Context, name string, w io.Writer, opts kubernetes.LogStreamOptions) error {
	if err := kubernetes.ValidateInstanceName(name); err != nil {
		return errors.Trace(err)
	}
	_, err := p.client.GetStatefulSet(ctx, kubernetes.StatefulSetName(name))
	if errors.Is(err, errors.NotFound) {
		return errors.NotFoundf("database %q", name)
	}
	if err != nil {
		return errors.Trace(err)
	}
	pod, err := p.client.WorkloadPod(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	stream, err := p.client.PodLogs(ctx, pod.Name, opts)
	if err != nil {
		return errors.Trace(err)
	}

	var t tomb.Tomb
	t.Go(func() error {
		defer func() { _ = stream.Close() }()
		_, err := io.Copy(w, stream)
		// Unblocks the teardown goroutine on EOF.
		t.Kill(err)
		return err
	})
	t.Go(func() error {
		select {
		case <-ctx.Done():
			// Unblocks the copy.
			_ = stream.Close()
			return ctx.Err()
		case <-t.Dying():
			return nil
		}
	})
	return errors.Trace(t.Wait())
}

// ListBackups returns the instance's stored artifacts, newest first.
func (p *Pipeline) ListBackups(ctx context.Context, name string) ([]database.Artifact, error) {
	internalName, err := p.resolveInternalName(ctx, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	artifacts, err := p.artifacts.List(ctx, internalName)
	return artifacts, errors.Trace(err)
}

// DeleteBackup removes one stored artifact.
func (p *Pipeline) DeleteBackup(ctx context.Context, name, filename string) error {
	internalName, err := p.resolveInternalName(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.artifacts.Delete(ctx, internalName, filename))
}

// PruneBackups deletes all but the keep newest artifacts and returns
// how many were removed.
func (p *Pipeline) PruneBackups(ctx context.Context, name string, keep int) (int, error) {
	internalName, err := p.resolveInternalName(ctx, name)
	if err != nil {
		return 0, errors.Trace(err)
	}
	deleted, err := p.artifacts.Prune(ctx, internalName, keep)
	return deleted, errors.Trace(err)
}

// resolveInternalName validates the instance name and maps it to the
// identifier artifacts are stored under.
func (p *Pipeline) resolveInternalName(ctx context.Context, name string) (string, error) {
	if err := kubernetes.ValidateInstanceName(name); err != nil {
		return "", errors.Trace(err)
	}
	return p.internalName(ctx, name)
}

// strategyFor resolves engine policy from the workload's engine
// label.
func (p *Pipeline) strategyFor(ctx context.Context, name string) (engine.Strategy, error) {
	if err := kubernetes.ValidateInstanceName(name); err != nil {
		return nil, errors.Trace(err)
	}
	workload, err := p.client.GetStatefulSet(ctx, kubernetes.StatefulSetName(name))
	if errors.Is(err, errors.NotFound) {
		return nil, errors.NotFoundf("database %q", name)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	strategy, err := engine.ForEngine(database.Engine(workload.Labels[kubernetes.LabelEngine]))
	if err != nil {
		return nil, errors.Annotatef(err, "resolving engine for %q", name)
	}
	return strategy, nil
}

// internalName reads the identifier the engine and the artifact store
// know the database by.
func (p *Pipeline) internalName(ctx context.Context, name string) (string, error) {
	secret, err := p.client.GetSecret(ctx, kubernetes.SecretName(name))
	if errors.Is(err, errors.NotFound) {
		return "", errors.NotFoundf("credentials for database %q", name)
	}
	if err != nil {
		return "", errors.Trace(err)
	}
	internalName := string(secret.Data[engine.SecretKeyDatabase])
	if internalName == "" {
		return "", errors.NotFoundf("internal name for database %q", name)
	}
	return internalName, nil
}

// primaryContainer names the container commands run in.
func primaryContainer(pod *corev1.Pod) string {
	if len(pod.Spec.Containers) == 0 {
		return ""
	}
	return pod.Spec.Containers[0].Name
}

// cappedBuffer retains at most max bytes of what is written to it and
// drops the rest, so a noisy command cannot balloon an error message.
type cappedBuffer struct {
	max int
	buf []byte
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}

// countingWriter counts bytes on their way through.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
